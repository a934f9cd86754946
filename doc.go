// Package bdispatch dispatches raw socket requests to dynamically resolved handler units.
//
// # Overview
//
// A host accepts connections and queues them. The [Loop] pulls one request at a time, resolves the handler unit
// for its target through a [Resolver] and invokes it with a [Request] and a [Response]. The response writes the
// status line, the headers and the body exactly once and then closes the connection. Whatever the handler does,
// including failing or never responding, the [Dispatcher] makes sure every connection is answered and closed once.
//
// A minimal example:
//
//	reg := bdispatch.NewRegistry()
//	reg.HandleFunc("login.lua", func(ctx context.Context, w *bdispatch.Response, r *bdispatch.Request) error {
//	    return w.SendString("OK")
//	})
//
//	disp := bdispatch.NewDispatcher(bdispatch.NewCache(reg, ""), logs)
//	err := bdispatch.NewLoop(host, disp, logs).Run(ctx)
//
// # Handler Units
//
// Units are loaded by a [Loader] under a name derived from the request target, see [UnitName]. A target of
// "/login.x?user=a" resolves the unit "login.lua". A loaded unit is either a bare handler or an [Exports] value
// with a handler under "default". Anything else still loads, but every dispatch to it fails with a 501. The shape
// is determined once, when the unit is loaded, see [ClassifyUnit].
//
// Loaded units are cached by the [Cache] for the lifetime of the process. Failed loads are not cached.
//
// # Completion
//
// A [Handler] completes in one of three ways:
//
//   - it returns nil, nil: the request is done. If the handler did not send a response the configured response
//     is sent with an empty body and [Logger.LogMissingResponse] is called.
//   - it returns an error: the request is answered with a 500, or the code of an [*Error].
//   - it returns a [*Deferred] created with [Spawn]: the request is done once the deferred work settles, a failure
//     is answered with a 500.
//
// Deferred work that the handler spawns but does not return has no observer. If it fails, the [UnobservedHook]
// is called with the response of the request it belongs to. The default hook, [AnswerUnobserved], answers with a
// 500 if the response is still open and only logs otherwise.
//
// # Error Handling
//
// Every failure maps onto a response:
//
//	resolution failure    501  No Handler Implemented: <detail>
//	unexpected shape      501  <description of the shape>
//	handler error         500  <message>
//	deferred failure      500  <message>
//
// Failures writing to the connection are never retried, they are reported to the [Logger]. No error escapes the
// [Loop].
package bdispatch
