// Package coordinator is the root of a Megastructure deployment. It enrols
// machines, processes and owners as they connect, hands out network
// addresses, runs build pipelines on the workers daemons offer and routes
// simulation locks to the process that owns the target.
//
// A root serves daemons over any network.Connection:
//
//	root, _ := coordinator.New(ctx, coordinator.WithConfig(cfg))
//	daemon := coordinator.NewDaemon(coordinator.WithExecutor(exec))
//	toRoot, toDaemon := memory.Pair(daemon, root)
//	root.Connect(toDaemon)
//	_ = daemon.Connect(ctx, toRoot)
//	result, _ := daemon.RunPipeline(ctx, toolChain, configuration)
//
// The status sub package exposes the same root over HTTP and websockets.
package coordinator
