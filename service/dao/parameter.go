package dao

// Parameter narrows a List call
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter creates a parameter; several values become a []string
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// Lookup returns the string values of the named parameter
func Lookup(name string, parameters []*Parameter) ([]string, bool) {
	for _, parameter := range parameters {
		if parameter == nil || parameter.Name != name {
			continue
		}
		switch actual := parameter.Value.(type) {
		case string:
			return []string{actual}, true
		case []string:
			return actual, true
		}
	}
	return nil, false
}
