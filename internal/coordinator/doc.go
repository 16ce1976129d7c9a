// Package coordinator manages the lifecycle of cooperating agent sessions on
// top of the shared document: registration, heartbeats, dead-session
// detection, first-fit task assignment and per-session statistics.
//
// # Liveness
//
// A session is active while now - lastHeartbeat <= DeadThreshold (120s by
// default, four missed 30s heartbeats). The stored status is informational;
// liveness is always recomputed from the timestamp. This is a plain
// heartbeat failure detector, not a gossip protocol.
//
// # Shared Context Sync
//
// [Coordinator.EnableSharedContextSync] starts one goroutine per coordinator
// that polls the document (and wakes early on fsnotify events) and adopts
// peer changes to sharedKnowledge. [Coordinator.Stop] cancels the loop and
// waits for it with a bounded timeout.
//
//	coord, _ := coordinator.New(manager, coordinator.Config{})
//	if err := coord.EnableSharedContextSync(ctx, "backend-1"); err != nil {
//	    return err
//	}
//	defer coord.Stop()
//
//	_ = coord.UpdateSharedContext(ctx, "phase", knowledge.String("design"))
//	phase := coord.GetSharedContext("phase", knowledge.Null())
//
// Task assignment is best effort: two processes racing on the same document
// can both assign, and the later write wins.
package coordinator
