package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bbpgithubaudit/BlueNaaS-Subcellular/msg"
)

var (
	addr    = flag.String("addr", "localhost:8000", "broker address")
	userID  = flag.String("user-id", "user1", "user identity")
	cmd     = flag.String("cmd", "run_simulation", "command to send")
	jobID   = flag.String("job-id", "", "job id for job-scoped commands")
	modelID = flag.String("model-id", "", "model id for run_simulation and get_simulations")
	stepIdx = flag.Int("step-idx", 0, "step index for get_spatial_step_trace")
	config  = flag.String("config", `{"nSteps":50,"dt":0.1}`, "simulation config for run_simulation")
)

func buildRequest() ([]byte, error) {
	switch *cmd {
	case msg.CmdRunSimulation:
		return msg.Encode(*cmd, 0, &msg.RunSimulation{ModelID: *modelID, Config: json.RawMessage(*config)})
	case msg.CmdCancelSimulation:
		return msg.Encode(*cmd, 0, &msg.CancelSimulation{JobID: *jobID})
	case msg.CmdDeleteSimulation:
		return msg.Encode(*cmd, 0, &msg.DeleteSimulation{JobID: *jobID})
	case msg.CmdGetLog, msg.CmdGetTrace, msg.CmdGetLastSpatialStepTraceIdx:
		return msg.Encode(*cmd, 1, &msg.JobRef{JobID: *jobID})
	case msg.CmdGetSpatialStepTrace:
		return msg.Encode(*cmd, 1, &msg.GetSpatialStepTrace{JobID: *jobID, StepIdx: *stepIdx})
	case msg.CmdGetSimulations:
		return msg.Encode(*cmd, 1, &msg.GetSimulations{ModelID: *modelID})
	default:
		return msg.Encode(*cmd, 1, nil)
	}
}

func main() {
	flag.Parse()
	log.SetFlags(0)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws", RawQuery: "userId=" + url.QueryEscape(*userID)}
	log.Printf("connecting to %s", u.String())

	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, frame, err := c.ReadMessage()
			if err != nil {
				log.Println("read:", err)
				return
			}
			log.Printf("recv: %s", frame)
		}
	}()

	request, err := buildRequest()
	if err != nil {
		log.Fatal("encode:", err)
	}
	if err := c.WriteMessage(websocket.TextMessage, request); err != nil {
		log.Fatal("write:", err)
	}

	select {
	case <-done:
	case <-interrupt:
		log.Println("interrupt")
		// To cleanly close a connection, a client should send a close
		// frame and wait for the server to close the connection.
		err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		if err != nil {
			log.Println("write close:", err)
			return
		}
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
