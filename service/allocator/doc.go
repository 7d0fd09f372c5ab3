// Package allocator provides the fixed-capacity identity pools used to hand
// out process and owner slots.  A Ring keeps its free values in a circular
// buffer so that allocate and free are O(1) and recently freed values are
// handed out again first.
package allocator
