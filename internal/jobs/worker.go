package jobs

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Worker runs the beacon handler against the progress queue.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	log    *zap.Logger
}

func NewWorker(opt asynq.RedisConnOpt, applier Applier, concurrency int, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueProgress: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("job failed", zap.String("type", task.Type()), zap.Error(err))
		}),
		Logger: &asynqLogger{log: log.Sugar()},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeProgressBeacon, HandleBeacon(applier, log))
	return &Worker{server: server, mux: mux, log: log}
}

// Run blocks until the process receives a termination signal.
func (w *Worker) Run() error {
	w.log.Info("starting beacon worker")
	return w.server.Run(w.mux)
}

func (w *Worker) Shutdown() {
	w.log.Info("stopping beacon worker")
	w.server.Shutdown()
}

type asynqLogger struct {
	log *zap.SugaredLogger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
