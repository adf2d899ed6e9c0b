package app

import (
	"fmt"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

type passRequester interface {
	RequestPass(reason string)
}

// Scheduler queues full passes on the configured cron spec.
type Scheduler struct {
	cron *cron.Cron
	spec string
}

// NewScheduler returns a scheduler for spec. An empty spec gives a scheduler that never fires.
func NewScheduler(spec string, requester passRequester) (*Scheduler, error) {
	s := &Scheduler{cron: cron.New(cron.WithLogger(cronLogger{})), spec: spec}
	if spec == "" {
		return s, nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		requester.RequestPass("schedule " + spec)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sync.refresh schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	if s.spec == "" {
		log.Info("Periodic sync disabled")
		return
	}
	s.cron.Start()
	log.Infof("Periodic sync scheduled: %s", s.spec)
}

// Stop waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.WithFields(fields(keysAndValues)).Debugf("cron: %s", msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.WithFields(fields(keysAndValues)).WithError(err).Errorf("cron: %s", msg)
}

func fields(keysAndValues []any) log.Fields {
	f := log.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}
