// Package main runs a demo WebSocket client that follows one optimization
// run from start to finish.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)
	runID := uuid.NewString()

	// Connect first so the whole run is observed
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/runs/" + runID + "/ws"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var evt event
			if err := c.ReadJSON(&evt); err != nil {
				log.Printf("read: %v", err)
				return
			}
			data, _ := json.Marshal(evt.Data)
			log.Printf("WS <- %s: %s", evt.Type, data)
			if evt.Type == "run.finished" || evt.Type == "run.failed" {
				return
			}
		}
	}()

	// Plan the pending reservations
	body, _ := json.Marshal(map[string]any{"runId": runID})
	resp, err := http.Post(base+"/v1/optimize", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	var out struct {
		SolutionID string `json:"solutionId"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	log.Printf("optimize: %s solution=%s", resp.Status, out.SolutionID)

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Print("timed out waiting for the run to finish")
	}
}
