package httpapi

import (
	"log/slog"

	"github.com/gorilla/mux"

	"github.com/example/driver-assignment/internal/availability"
	"github.com/example/driver-assignment/internal/geo"
	"github.com/example/driver-assignment/internal/ingest"
	"github.com/example/driver-assignment/internal/notify"
	"github.com/example/driver-assignment/internal/queue"
	"github.com/example/driver-assignment/internal/scheduler"
	"github.com/example/driver-assignment/internal/storage"
)

// Server is the HTTP surface over the assignment engine.
type Server struct {
	Scheduler *scheduler.Scheduler
	Registry  *availability.Registry
	Store     storage.Store
	Queue     queue.Queue
	Locations geo.LocationIndex
	Kafka     *ingest.KafkaProducer // optional
	WSReg     *notify.WSRegistry

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(sched *scheduler.Scheduler, reg *availability.Registry, store storage.Store, q queue.Queue,
	locations geo.LocationIndex, kafka *ingest.KafkaProducer, wsreg *notify.WSRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		Scheduler: sched,
		Registry:  reg,
		Store:     store,
		Queue:     q,
		Locations: locations,
		Kafka:     kafka,
		WSReg:     wsreg,
		logger:    logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}
