// Package eventbus provides the namespaced publish/subscribe core.
//
// Event names are dotted, with the namespace before the first dot: events
// originating in a module are named "<module>.<event>", server lifecycle
// events are named "internal.<event>". A Bus matches on exact names (On) or
// on everything (OnAny); there is no pattern matching in the bus itself.
// Regex filtering, such as automatic pushdown to clients, is layered on top
// with an OnAny handler.
//
// Emit is synchronous and fire-and-forget. EmitAsync runs handlers
// concurrently and reports once every one of them has finished:
//
//	bus := eventbus.New()
//	bus.On("scoreboard.goal", eventbus.Listen(func(ev eventbus.Event) {
//		fmt.Println("goal!", ev.Payload)
//	}))
//	bus.Emit(ctx, "scoreboard.goal", map[string]any{"team": "home"})
package eventbus
