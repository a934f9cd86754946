package bdispatch_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/advdv/bdispatch"
	"github.com/advdv/bdispatch/bdispatchtest"
	"github.com/cockroachdb/errors"
)

func Example() {
	reg := bdispatch.NewRegistry()
	reg.MustRegister("login.lua", bdispatch.Exports{
		"default": func(_ context.Context, w *bdispatch.Response, _ *bdispatch.Request) error {
			return w.SendString("OK")
		},
	})

	logs := bdispatch.NewStdLogger(log.New(os.Stdout, "", 0))
	host := bdispatchtest.NewHost()
	loop := bdispatch.NewLoop(host, bdispatch.NewDispatcher(bdispatch.NewCache(reg, ""), logs), logs)

	id := host.Enqueue("GET", "/login.x", "")
	host.CloseIntake()

	if err := loop.Run(context.Background()); err != nil {
		panic(err)
	}

	fmt.Println(strconv.Quote(host.Output(id)))
	// Output:
	// "HTTP/1.1 200 OK\r\ncontent-type: application/json\r\ncontent-length: 2\r\n\r\nOK"
}

func Example_missingHandler() {
	loader := bdispatch.LoaderFunc(func(_ context.Context, name string) (any, error) {
		return nil, errors.Newf("cannot find module '%s'", name)
	})

	logs := bdispatch.NewStdLogger(log.New(os.Stdout, "", 0))
	host := bdispatchtest.NewHost()
	loop := bdispatch.NewLoop(host, bdispatch.NewDispatcher(bdispatch.NewCache(loader, ""), logs), logs)

	id := host.Enqueue("GET", "/missing.x", "")
	host.CloseIntake()

	if err := loop.Run(context.Background()); err != nil {
		panic(err)
	}

	status, _, _ := strings.Cut(host.Output(id), "\r\n")
	_, body, _ := strings.Cut(host.Output(id), "\r\n\r\n")
	fmt.Println(status)
	fmt.Println(body)
	// Output:
	// bdispatch: dispatch of conn 1 failed: Not Implemented: cannot find module 'missing.lua'
	// HTTP/1.1 501 ERROR
	// No Handler Implemented: cannot find module 'missing.lua'
}

func ExampleSpawn() {
	reg := bdispatch.NewRegistry()
	reg.MustRegister("report.lua", func(
		ctx context.Context, w *bdispatch.Response, r *bdispatch.Request,
	) (*bdispatch.Deferred, error) {
		name := r.Query()["name"]
		return bdispatch.Spawn(ctx, w, func(context.Context) error {
			w.SetContentType("text/plain")
			return w.SendString("report for " + name)
		}), nil
	})

	logs := bdispatch.NewStdLogger(log.New(os.Stdout, "", 0))
	host := bdispatchtest.NewHost()
	disp := bdispatch.NewDispatcher(bdispatch.NewCache(reg, ""), logs)

	id, r, w := host.Exchange("GET", "/report.x?name=q3", "", logs)
	disp.Dispatch(context.Background(), r, w)
	<-host.Closed(id)

	_, body, _ := strings.Cut(host.Output(id), "\r\n\r\n")
	fmt.Println(body)
	// Output:
	// report for q3
}

func ExampleCodeOf() {
	err := bdispatch.NewError(bdispatch.CodeNotFound, bdispatch.KindUnknown, errors.New("user not found"))
	fmt.Println("Code:", bdispatch.CodeOf(err))

	wrapped := fmt.Errorf("handler failed: %w", err)
	fmt.Println("Wrapped code:", bdispatch.CodeOf(wrapped))

	plainErr := errors.New("something went wrong")
	fmt.Println("Plain error code:", bdispatch.CodeOf(plainErr))
	// Output:
	// Code: 404
	// Wrapped code: 404
	// Plain error code: 0
}
