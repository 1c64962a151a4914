package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"net/url"
	"os"
	"time"

	"github.com/hnakamur/ltsvlog"
	"golang.org/x/net/context"

	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/worker"
)

var (
	addr                    = flag.String("addr", "localhost:8000", "broker address")
	delayAfterSendingClose  = flag.Duration("delay-after-sending-close", time.Second, "delay after sending close frame")
	delayBeforeReconnecting = flag.Duration("delay-before-reconnecting", 5*time.Second, "delay before reconnecting to the broker")
	debug                   = flag.Bool("debug", false, "enable debug logging")
)

// simConfig is the demo solver's view of the opaque job config.
type simConfig struct {
	NSteps      int      `json:"nSteps"`
	Dt          float64  `json:"dt"`
	Observables []string `json:"observables"`
	SpatialEach int      `json:"spatialEach"`
}

func main() {
	flag.Parse()
	logger := ltsvlog.NewLTSVLogger(os.Stdout, *debug)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/sim"}
	w := worker.NewWorker(u, 256, run, *delayAfterSendingClose, *delayBeforeReconnecting, logger)

	err := w.Run(context.Background())
	if err != nil {
		logger.ErrorWithStack(ltsvlog.LV{L: "msg", V: "worker stopped"},
			ltsvlog.LV{L: "err", V: err})
	}
}

// run integrates a toy exponential-decay system and streams its progress the
// way a real solver would.
func run(ctx context.Context, job msg.StartJob, s *worker.Stream) error {
	var conf simConfig
	if err := json.Unmarshal(job.Config, &conf); err != nil {
		return fmt.Errorf("invalid simulation config: %v", err)
	}
	if conf.NSteps <= 0 {
		conf.NSteps = 100
	}
	if conf.Dt <= 0 {
		conf.Dt = 0.01
	}
	if len(conf.Observables) == 0 {
		conf.Observables = []string{"A"}
	}

	s.Log("simulation initialized", "system")
	s.SetTraceMeta(msg.TraceTargetObservable, conf.Observables, nil, nil)

	for i := 0; i < conf.NSteps; i++ {
		select {
		case <-ctx.Done():
			s.Log("simulation stopped", "system")
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
		t := float64(i) * conf.Dt
		values := make([]float64, len(conf.Observables))
		for j := range values {
			values[j] = math.Exp(-t * float64(j+1))
		}
		s.StepTrace(t, i, values)
		if conf.SpatialEach > 0 && i%conf.SpatialEach == 0 {
			data, err := json.Marshal(map[string]interface{}{
				"stepIdx":  i,
				"tetConcs": values,
			})
			if err == nil {
				s.SpatialStepTrace(i, data)
			}
		}
	}

	s.Trace()
	s.Log("simulation finished", "system")
	return nil
}
