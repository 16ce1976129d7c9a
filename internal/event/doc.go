// Package event provides a pub-sub event bus that lets observers follow the
// session coordinator without polling the shared document.
//
// # Main Types
//
//   - [Event]: interface all events implement, providing EventType() and Timestamp()
//   - [Bus]: synchronous dispatcher, safe for concurrent use
//   - [Handler]: func(Event)
//
// # Event Categories
//
// Session lifecycle:
//   - [SessionRegisteredEvent], [SessionDeregisteredEvent], [SessionDeadEvent]
//
// Tasks:
//   - [TaskAssignedEvent]
//
// Shared context:
//   - [ContextChangedEvent]: the sync loop adopted peer changes
//   - [ContextConflictEvent]: an update raced a peer; merged or escalated
//   - [DocumentWrittenEvent]: a new document version was committed
//
// Handlers run synchronously on the publisher's goroutine. A panicking
// handler is recovered and logged; remaining handlers still run.
//
// # Basic Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeSessionDead, func(e event.Event) {
//	    dead := e.(event.SessionDeadEvent)
//	    log.Printf("session %s stopped heartbeating", dead.SessionID)
//	})
//
//	bus.SubscribeAll(func(e event.Event) {
//	    log.Printf("%s at %v", e.EventType(), e.Timestamp())
//	})
package event
