package xhttp

import (
	"net"
	"reflect"
	"runtime"
	"slices"
	"time"

	"github.com/nimasrn/courier-dispatch/pkg/logger"
	"github.com/valyala/fasthttp"
)

type Server = fasthttp.Server

type ServerOption struct {
	Name string

	// idle keep-alive connections are closed after this long
	IdleTimeout time.Duration

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	ReadBufferSize  int
	WriteBufferSize int

	MaxRequestBodySize int
	Concurrency        int
	MaxConnsPerIP      int
}

var DefaultServerOption = ServerOption{
	IdleTimeout:        time.Second * 10,
	ReadTimeout:        time.Millisecond * 2500,
	WriteTimeout:       time.Millisecond * 2500,
	ReadBufferSize:     1024 * 4,
	WriteBufferSize:    1024 * 4,
	MaxRequestBodySize: 4 * 1024 * 1024,
	Concurrency:        30_000,
	MaxConnsPerIP:      10_000,
}

type Engine struct {
	*Router
	*Server
	middle []MiddlewareFunc
}

// merge fills zero fields of o from DefaultServerOption.
func (o ServerOption) merge() ServerOption {
	d := DefaultServerOption
	if o.IdleTimeout > 0 {
		d.IdleTimeout = o.IdleTimeout
	}
	if o.ReadTimeout > 0 {
		d.ReadTimeout = o.ReadTimeout
	}
	if o.WriteTimeout > 0 {
		d.WriteTimeout = o.WriteTimeout
	}
	if o.ReadBufferSize > 0 {
		d.ReadBufferSize = o.ReadBufferSize
	}
	if o.WriteBufferSize > 0 {
		d.WriteBufferSize = o.WriteBufferSize
	}
	if o.MaxRequestBodySize > 0 {
		d.MaxRequestBodySize = o.MaxRequestBodySize
	}
	if o.Concurrency > 0 {
		d.Concurrency = o.Concurrency
	}
	if o.MaxConnsPerIP > 0 {
		d.MaxConnsPerIP = o.MaxConnsPerIP
	}
	d.Name = o.Name
	return d
}

func NewServer(options ServerOption) *Engine {
	o := options.merge()
	return &Engine{
		Router: CreateDefaultRouter(),
		Server: &fasthttp.Server{
			Name:                         o.Name,
			Concurrency:                  o.Concurrency,
			ReadBufferSize:               o.ReadBufferSize,
			WriteBufferSize:              o.WriteBufferSize,
			ReadTimeout:                  o.ReadTimeout,
			WriteTimeout:                 o.WriteTimeout,
			IdleTimeout:                  o.IdleTimeout,
			MaxConnsPerIP:                o.MaxConnsPerIP,
			MaxRequestBodySize:           o.MaxRequestBodySize,
			DisablePreParseMultipartForm: true,
			NoDefaultServerHeader:        true,
			NoDefaultContentType:         true,
			CloseOnShutdown:              true,
			TCPKeepalive:                 true,
			Logger:                       logger.GetLogger(),
			ErrorHandler: func(ctx *RequestCtx, err error) {
				logger.Warn("[xhttp] request error", "error", err, "ip", ctx.RemoteIP().String())
			},
		},
	}
}

func CreateServer() *Engine {
	return NewServer(DefaultServerOption)
}

func (e *Engine) ListenAndServe(addr string) error {
	e.DoRouting()
	logger.Info("[xhttp] server is listening", "addr", addr)
	return e.Server.ListenAndServe(addr)
}

// Serve runs the server on an existing listener.
func (e *Engine) Serve(ln net.Listener) error {
	e.DoRouting()
	return e.Server.Serve(ln)
}

// DoRouting installs the router as the server handler wrapped in the
// registered middleware, first registered outermost.
func (e *Engine) DoRouting() {
	for method, route := range e.Router.List() {
		for _, r := range route {
			logger.Debug("[xhttp] route", "method", method, "path", r)
		}
	}

	handler := e.Router.Handler
	middle := slices.Clone(e.middle)
	slices.Reverse(middle)
	for _, m := range middle {
		handler = m(handler)
		logger.Debug("[xhttp] middleware registered", "name", runtime.FuncForPC(reflect.ValueOf(m).Pointer()).Name())
	}
	e.Server.Handler = handler
}

// Use adds middleware to the chain which is run for every request.
func (e *Engine) Use(middleware MiddlewareFunc) {
	e.middle = append(e.middle, middleware)
}

// Shutdown gracefully shuts down the server without interrupting any active connections.
func (e *Engine) Shutdown() {
	logger.Info("[xhttp] server is shutting down")
	if err := e.Server.Shutdown(); err != nil {
		logger.Error("[xhttp] error while shutting down", "error", err)
	}
}
