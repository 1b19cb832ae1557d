package api

import (
	"net/http"
	"strings"

	"newfem_go/pkg/logger"
)

// Router gerencia as rotas da API
type Router struct {
	handler     *Handler
	mux         *http.ServeMux
	basePath    string
	middlewares []Middleware
}

// NewRouter cria um novo router para a API. Com enableCORS falso o
// middleware de CORS não é aplicado.
func NewRouter(handler *Handler, basePath string, enableCORS bool) *Router {
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	basePath = strings.TrimSuffix(basePath, "/")

	middlewares := []Middleware{
		RequestIDMiddleware,
		LoggingMiddleware,
		RecoveryMiddleware,
	}
	if enableCORS {
		middlewares = append(middlewares, CorsMiddleware)
	}

	return &Router{
		handler:     handler,
		mux:         http.NewServeMux(),
		basePath:    basePath,
		middlewares: middlewares,
	}
}

// Setup configura todas as rotas
func (r *Router) Setup() {
	r.mux.HandleFunc(r.path("/health"), r.handler.GetHealth)
	r.mux.HandleFunc(r.path("/status"), r.handler.GetStatus)
	r.mux.HandleFunc(r.path("/data/realtime"), r.handler.GetRealtimeData)
	r.mux.HandleFunc(r.path("/data/fps"), r.handler.HandleFPS)
	r.mux.HandleFunc(r.path("/data/reset"), r.handler.PostReset)
	r.mux.HandleFunc(r.path("/control"), r.handler.PostControl)
	r.mux.HandleFunc(r.path("/roi/config"), r.handler.HandleRoiConfig)
	r.mux.HandleFunc(r.path("/roi/frame-rate"), r.handler.HandleRoiFrameRate)
	r.mux.HandleFunc(r.path("/peak-detection/config"), r.handler.HandlePeakDetectionConfig)
	r.mux.HandleFunc(r.path("/peak-detection/peaks"), r.handler.HandlePeaks)

	logger.Infof("API configurada com base path: %s", r.basePath)
}

// Handle registra uma rota extra fora do base path, com os mesmos middlewares
func (r *Router) Handle(pattern string, handler http.Handler) {
	r.mux.Handle(pattern, handler)
}

// Handler retorna o handler HTTP final com todos os middlewares aplicados
func (r *Router) Handler() http.Handler {
	return r.applyMiddleware(r.mux)
}

// AddMiddleware adiciona um novo middleware
func (r *Router) AddMiddleware(middleware Middleware) {
	r.middlewares = append(r.middlewares, middleware)
}

// path retorna o caminho completo para uma rota
func (r *Router) path(route string) string {
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	return r.basePath + route
}

// applyMiddleware aplica todos os middlewares ao handler
func (r *Router) applyMiddleware(handler http.Handler) http.Handler {
	if len(r.middlewares) == 0 {
		return handler
	}

	return Chain(r.middlewares...)(handler)
}

// ServeHTTP implementa a interface http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.Handler().ServeHTTP(w, req)
}
