// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command loadgen drives a running relay over WebSocket and verifies
// delivery ratios. Each run executes one scenario and emits a single JSON
// result line, suitable for appending to a JSONL file consumed by the
// report tool.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/absmach/relaymq/topics"
)

var allScenarios = []string{
	"ws-fanin",
	"ws-fanout",
	"ws-wildcards",
	"ws-substorm",
	"ws-retained",
}

type runConfig struct {
	Scenario             string
	PayloadLabel         string
	PayloadBytes         int
	WSAddrs              []string
	WSPath               string
	MinRatio             float64
	DrainTimeout         time.Duration
	Publishers           int
	Subscribers          int
	MessagesPerPublisher int
	PublishInterval      time.Duration
}

type scenarioResult struct {
	Timestamp      string  `json:"timestamp"`
	Scenario       string  `json:"scenario"`
	Description    string  `json:"description"`
	PayloadLabel   string  `json:"payload_label"`
	PayloadBytes   int     `json:"payload_bytes"`
	Publishers     int     `json:"publishers"`
	Subscribers    int     `json:"subscribers"`
	Published      int64   `json:"published"`
	Expected       int64   `json:"expected"`
	Received       int64   `json:"received"`
	DeliveryRatio  float64 `json:"delivery_ratio"`
	Errors         int64   `json:"errors"`
	SubscribeOps   int64   `json:"subscribe_ops,omitempty"`
	UnsubscribeOps int64   `json:"unsubscribe_ops,omitempty"`
	PublishRateMPS float64 `json:"publish_rate_mps"`
	ReceiveRateMPS float64 `json:"receive_rate_mps"`
	DurationMS     int64   `json:"duration_ms"`
	Pass           bool    `json:"pass"`
	Notes          string  `json:"notes,omitempty"`
}

func main() {
	scenarioFlag := flag.String("scenario", "", "Scenario to run")
	payloadFlag := flag.String("payload", "small", "Payload preset: small|medium|large")
	payloadBytesFlag := flag.Int("payload-bytes", 0, "Payload size in bytes (overrides -payload)")
	wsFlag := flag.String("ws-addrs", "127.0.0.1:8083", "Comma-separated relay WebSocket addresses")
	wsPathFlag := flag.String("ws-path", "/ws", "Relay WebSocket path")
	publishersFlag := flag.Int("publishers", 0, "Override concurrent publishers")
	subscribersFlag := flag.Int("subscribers", 0, "Override concurrent subscribers")
	messagesPerPublisherFlag := flag.Int("messages-per-publisher", 0, "Override messages each publisher sends")
	publishIntervalFlag := flag.Duration("publish-interval", 0, "Pause between each publish per publisher (e.g. 5ms)")
	minRatioFlag := flag.Float64("min-ratio", 0.95, "Minimum delivery ratio to pass")
	drainTimeoutFlag := flag.Duration("drain-timeout", 45*time.Second, "Max wait time for message drain after publishers finish")
	jsonOutFlag := flag.String("json-out", "", "Optional file to append one JSON line result")
	listFlag := flag.Bool("list-scenarios", false, "Print supported scenarios and exit")
	flag.Parse()

	if *listFlag {
		for _, sc := range allScenarios {
			fmt.Println(sc)
		}
		return
	}

	if *scenarioFlag == "" {
		exitErr(errors.New("-scenario is required (use -list-scenarios to inspect options)"))
	}

	payloadLabel := strings.ToLower(*payloadFlag)
	payloadBytes := 0
	if *payloadBytesFlag > 0 {
		payloadBytes = *payloadBytesFlag
		payloadLabel = fmt.Sprintf("%dB", payloadBytes)
	} else {
		var err error
		payloadBytes, err = payloadSizeFromLabel(*payloadFlag)
		if err != nil {
			exitErr(err)
		}
	}

	wsAddrs := parseAddrList(*wsFlag)
	if len(wsAddrs) == 0 {
		exitErr(errors.New("no WebSocket addresses configured"))
	}

	cfg := runConfig{
		Scenario:             *scenarioFlag,
		PayloadLabel:         payloadLabel,
		PayloadBytes:         payloadBytes,
		WSAddrs:              wsAddrs,
		WSPath:               *wsPathFlag,
		MinRatio:             *minRatioFlag,
		DrainTimeout:         *drainTimeoutFlag,
		Publishers:           *publishersFlag,
		Subscribers:          *subscribersFlag,
		MessagesPerPublisher: *messagesPerPublisherFlag,
		PublishInterval:      *publishIntervalFlag,
	}

	start := time.Now()

	res, err := runScenario(cfg)
	if res.Description == "" {
		res.Description = scenarioDescription(cfg.Scenario)
	}
	res.DurationMS = time.Since(start).Milliseconds()
	res.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if err != nil {
		res.Pass = false
		if res.Notes == "" {
			res.Notes = err.Error()
		} else {
			res.Notes = res.Notes + "; " + err.Error()
		}
	}

	if res.Expected > 0 {
		res.DeliveryRatio = float64(res.Received) / float64(res.Expected)
	}
	if res.DurationMS > 0 {
		sec := float64(res.DurationMS) / 1000.0
		res.PublishRateMPS = float64(res.Published) / sec
		res.ReceiveRateMPS = float64(res.Received) / sec
	}

	line, mErr := json.Marshal(res)
	if mErr != nil {
		exitErr(fmt.Errorf("failed to marshal result: %w", mErr))
	}

	fmt.Printf("scenario=%s desc=%q msg_size=%d sent=%d expected=%d received=%d publishers=%d subscribers=%d mps_sent=%.2f mps_recv=%.2f ratio=%.4f pass=%v errors=%d duration_ms=%d\n",
		res.Scenario, res.Description, res.PayloadBytes, res.Published, res.Expected, res.Received,
		res.Publishers, res.Subscribers, res.PublishRateMPS, res.ReceiveRateMPS,
		res.DeliveryRatio, res.Pass, res.Errors, res.DurationMS)
	fmt.Println(string(line))

	if *jsonOutFlag != "" {
		if err := appendJSONLine(*jsonOutFlag, line); err != nil {
			exitErr(err)
		}
	}

	if !res.Pass {
		os.Exit(1)
	}
}

func runScenario(cfg runConfig) (scenarioResult, error) {
	switch cfg.Scenario {
	case "ws-fanin":
		return runTopicScenario(cfg, "ws-fanin", workloadFanin(cfg))
	case "ws-fanout":
		return runTopicScenario(cfg, "ws-fanout", workloadFanout(cfg))
	case "ws-wildcards":
		return runWildcardScenario(cfg)
	case "ws-substorm":
		return runSubscriptionStorm(cfg)
	case "ws-retained":
		return runRetainedScenario(cfg)
	default:
		return scenarioResult{}, fmt.Errorf("unsupported scenario %q; valid: %s", cfg.Scenario, strings.Join(allScenarios, ", "))
	}
}

type topicWorkload struct {
	Publishers           int
	Subscribers          int
	MessagesPerPublisher int
}

func workloadFanin(cfg runConfig) topicWorkload {
	w := topicWorkload{Publishers: 120, Subscribers: 40, MessagesPerPublisher: messagesByPayloadBytes(cfg.PayloadBytes, 20, 5, 1)}
	applyTopicOverrides(&w, cfg)
	return w
}

func workloadFanout(cfg runConfig) topicWorkload {
	w := topicWorkload{Publishers: 20, Subscribers: 180, MessagesPerPublisher: messagesByPayloadBytes(cfg.PayloadBytes, 30, 8, 1)}
	applyTopicOverrides(&w, cfg)
	return w
}

func runTopicScenario(cfg runConfig, scenarioName string, workload topicWorkload) (scenarioResult, error) {
	res := scenarioResult{
		Scenario:     scenarioName,
		PayloadLabel: cfg.PayloadLabel,
		PayloadBytes: cfg.PayloadBytes,
		Publishers:   workload.Publishers,
		Subscribers:  workload.Subscribers,
	}

	runID := time.Now().UnixNano()
	topic := fmt.Sprintf("perf/topic/%s/%d", scenarioName, runID)

	var received atomic.Int64
	var errCount atomic.Int64

	subs, err := connectSubscribers(cfg, scenarioName, runID, workload.Subscribers, func(_ int, _ string, _ []byte) {
		received.Add(1)
	})
	if err != nil {
		return res, err
	}
	defer closeClients(subs)

	for i, sub := range subs {
		if err := sub.subscribe(topic); err != nil {
			errCount.Add(1)
			return res, fmt.Errorf("subscriber %d failed to subscribe %q: %w", i, topic, err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	published := runPublishers(cfg, publishParams{
		Scenario:             scenarioName,
		RunID:                runID,
		Publishers:           workload.Publishers,
		MessagesPerPublisher: workload.MessagesPerPublisher,
		TopicFor: func(_ int, _ int) string {
			return topic
		},
		ErrCount: &errCount,
	})

	expected := published * int64(workload.Subscribers)
	_ = waitForAtLeast(&received, expected, cfg.DrainTimeout)

	res.Published = published
	res.Expected = expected
	res.Received = received.Load()
	res.Errors = errCount.Load()
	res.DeliveryRatio = ratio(res.Received, res.Expected)
	res.Pass = res.DeliveryRatio >= cfg.MinRatio
	if !res.Pass {
		res.Notes = fmt.Sprintf("delivery ratio %.4f below min %.4f", res.DeliveryRatio, cfg.MinRatio)
	}

	return res, nil
}

func runWildcardScenario(cfg runConfig) (scenarioResult, error) {
	res := scenarioResult{
		Scenario:     "ws-wildcards",
		PayloadLabel: cfg.PayloadLabel,
		PayloadBytes: cfg.PayloadBytes,
	}

	workload := topicWorkload{Publishers: 40, Subscribers: 80, MessagesPerPublisher: messagesByPayloadBytes(cfg.PayloadBytes, 25, 8, 2)}
	applyTopicOverrides(&workload, cfg)
	res.Publishers = workload.Publishers
	res.Subscribers = workload.Subscribers

	runID := time.Now().UnixNano()
	base := fmt.Sprintf("perf/topic/wild/%d", runID)
	wildTopics := makeDeviceTopics(base, 64)

	var received atomic.Int64
	var errCount atomic.Int64
	var expected atomic.Int64

	subs, err := connectSubscribers(cfg, "ws-wildcards", runID, workload.Subscribers, func(_ int, _ string, _ []byte) {
		received.Add(1)
	})
	if err != nil {
		return res, err
	}
	defer closeClients(subs)

	// Mix of exact, single-level and multi-level filters.
	filters := make([]string, 0, workload.Subscribers)
	for i, sub := range subs {
		filter := wildcardFilter(base, wildTopics, i)
		filters = append(filters, filter)
		if err := sub.subscribe(filter); err != nil {
			errCount.Add(1)
			return res, fmt.Errorf("subscriber %d failed to subscribe %q: %w", i, filter, err)
		}
	}

	time.Sleep(500 * time.Millisecond)

	published := runPublishers(cfg, publishParams{
		Scenario:             "ws-wildcards",
		RunID:                runID,
		Publishers:           workload.Publishers,
		MessagesPerPublisher: workload.MessagesPerPublisher,
		TopicFor: func(pubIdx, msgIdx int) string {
			return wildTopics[(pubIdx*97+msgIdx)%len(wildTopics)]
		},
		OnPublished: func(topic string) {
			for _, filter := range filters {
				if topics.Match(filter, topic) {
					expected.Add(1)
				}
			}
		},
		ErrCount: &errCount,
	})

	_ = waitForAtLeast(&received, expected.Load(), cfg.DrainTimeout)

	res.Published = published
	res.Expected = expected.Load()
	res.Received = received.Load()
	res.Errors = errCount.Load()
	res.DeliveryRatio = ratio(res.Received, res.Expected)
	res.Pass = res.DeliveryRatio >= cfg.MinRatio
	if !res.Pass {
		res.Notes = fmt.Sprintf("delivery ratio %.4f below min %.4f", res.DeliveryRatio, cfg.MinRatio)
	}

	return res, nil
}

func runSubscriptionStorm(cfg runConfig) (scenarioResult, error) {
	res := scenarioResult{
		Scenario:     "ws-substorm",
		PayloadLabel: cfg.PayloadLabel,
		PayloadBytes: cfg.PayloadBytes,
	}

	type stormWorkload struct {
		Publishers           int
		StableSubscribers    int
		ChurnSubscribers     int
		MessagesPerPublisher int
	}

	workload := func() stormWorkload {
		w := stormWorkload{
			Publishers:           40,
			StableSubscribers:    80,
			ChurnSubscribers:     140,
			MessagesPerPublisher: messagesByPayloadBytes(cfg.PayloadBytes, 40, 15, 4),
		}
		if cfg.Publishers > 0 {
			w.Publishers = cfg.Publishers
		}
		if cfg.MessagesPerPublisher > 0 {
			w.MessagesPerPublisher = cfg.MessagesPerPublisher
		}
		if cfg.Subscribers > 0 {
			w.StableSubscribers = cfg.Subscribers / 2
			if w.StableSubscribers < 1 {
				w.StableSubscribers = 1
			}
			w.ChurnSubscribers = cfg.Subscribers - w.StableSubscribers
			if w.ChurnSubscribers < 1 {
				w.ChurnSubscribers = 1
			}
		}
		return w
	}()

	res.Publishers = workload.Publishers
	res.Subscribers = workload.StableSubscribers + workload.ChurnSubscribers

	runID := time.Now().UnixNano()
	base := fmt.Sprintf("perf/topic/storm/%d", runID)
	stormTopics := makeDeviceTopics(base, 160)

	stableFilters := make([]string, 0, workload.StableSubscribers)
	var stableReceived atomic.Int64
	var expected atomic.Int64
	var errCount atomic.Int64
	var subOps atomic.Int64
	var unsubOps atomic.Int64

	stableSubs, err := connectSubscribers(cfg, "ws-substorm-stable", runID, workload.StableSubscribers, func(_ int, _ string, _ []byte) {
		stableReceived.Add(1)
	})
	if err != nil {
		return res, err
	}
	defer closeClients(stableSubs)

	for i, sub := range stableSubs {
		filter := wildcardFilter(base, stormTopics, i)
		stableFilters = append(stableFilters, filter)
		if err := sub.subscribe(filter); err != nil {
			errCount.Add(1)
			return res, fmt.Errorf("stable subscriber %d failed to subscribe %q: %w", i, filter, err)
		}
	}

	churnSubs, err := connectSubscribers(cfg, "ws-substorm-churn", runID, workload.ChurnSubscribers, nil)
	if err != nil {
		return res, err
	}
	defer closeClients(churnSubs)

	stopChurn := make(chan struct{})
	var churnWG sync.WaitGroup
	for i, sub := range churnSubs {
		churnWG.Add(1)
		go func(idx int, c *wsClient) {
			defer churnWG.Done()
			topicIndex := idx % len(stormTopics)
			for {
				select {
				case <-stopChurn:
					return
				default:
				}

				topic := stormTopics[topicIndex%len(stormTopics)]
				topicIndex++
				if err := c.subscribe(topic); err == nil {
					subOps.Add(1)
				} else {
					errCount.Add(1)
				}
				if err := c.unsubscribe(topic); err == nil {
					unsubOps.Add(1)
				} else {
					errCount.Add(1)
				}

				wild := base + "/device/+/metric/+"
				if err := c.subscribe(wild); err == nil {
					subOps.Add(1)
				} else {
					errCount.Add(1)
				}
				if err := c.unsubscribe(wild); err == nil {
					unsubOps.Add(1)
				} else {
					errCount.Add(1)
				}
			}
		}(i, sub)
	}

	time.Sleep(600 * time.Millisecond)

	published := runPublishers(cfg, publishParams{
		Scenario:             "ws-substorm",
		RunID:                runID,
		Publishers:           workload.Publishers,
		MessagesPerPublisher: workload.MessagesPerPublisher,
		TopicFor: func(pubIdx, msgIdx int) string {
			return stormTopics[(pubIdx*97+msgIdx)%len(stormTopics)]
		},
		OnPublished: func(topic string) {
			for _, filter := range stableFilters {
				if topics.Match(filter, topic) {
					expected.Add(1)
				}
			}
		},
		ErrCount: &errCount,
	})

	close(stopChurn)
	churnWG.Wait()

	_ = waitForAtLeast(&stableReceived, expected.Load(), cfg.DrainTimeout)

	res.Published = published
	res.Expected = expected.Load()
	res.Received = stableReceived.Load()
	res.Errors = errCount.Load()
	res.SubscribeOps = subOps.Load()
	res.UnsubscribeOps = unsubOps.Load()
	res.DeliveryRatio = ratio(res.Received, res.Expected)
	res.Pass = res.DeliveryRatio >= cfg.MinRatio
	if !res.Pass {
		res.Notes = fmt.Sprintf("stable delivery ratio %.4f below min %.4f under churn", res.DeliveryRatio, cfg.MinRatio)
	}

	return res, nil
}

func runRetainedScenario(cfg runConfig) (scenarioResult, error) {
	res := scenarioResult{
		Scenario:     "ws-retained",
		PayloadLabel: cfg.PayloadLabel,
		PayloadBytes: cfg.PayloadBytes,
	}

	workload := topicWorkload{Publishers: 20, Subscribers: 60, MessagesPerPublisher: messagesByPayloadBytes(cfg.PayloadBytes, 10, 4, 1)}
	applyTopicOverrides(&workload, cfg)
	res.Publishers = workload.Publishers
	res.Subscribers = workload.Subscribers

	runID := time.Now().UnixNano()
	base := fmt.Sprintf("perf/topic/retained/%d", runID)

	var errCount atomic.Int64

	// Each publisher owns one topic; the last write per topic is the retained value.
	published := runPublishers(cfg, publishParams{
		Scenario:             "ws-retained",
		RunID:                runID,
		Publishers:           workload.Publishers,
		MessagesPerPublisher: workload.MessagesPerPublisher,
		Retain:               true,
		TopicFor: func(pubIdx, _ int) string {
			return fmt.Sprintf("%s/slot/%d", base, pubIdx)
		},
		ErrCount: &errCount,
	})

	// Late subscribers join after all writes and must replay one retained
	// value per slot.
	var received atomic.Int64
	subs, err := connectSubscribers(cfg, "ws-retained", runID, workload.Subscribers, func(_ int, _ string, _ []byte) {
		received.Add(1)
	})
	if err != nil {
		return res, err
	}
	defer closeClients(subs)

	filter := base + "/slot/+"
	for i, sub := range subs {
		if err := sub.subscribe(filter); err != nil {
			errCount.Add(1)
			return res, fmt.Errorf("subscriber %d failed to subscribe %q: %w", i, filter, err)
		}
	}

	expected := int64(workload.Publishers) * int64(workload.Subscribers)
	_ = waitForAtLeast(&received, expected, cfg.DrainTimeout)

	res.Published = published
	res.Expected = expected
	res.Received = received.Load()
	res.Errors = errCount.Load()
	res.DeliveryRatio = ratio(res.Received, res.Expected)
	res.Pass = res.DeliveryRatio >= cfg.MinRatio
	if !res.Pass {
		res.Notes = fmt.Sprintf("retained replay ratio %.4f below min %.4f", res.DeliveryRatio, cfg.MinRatio)
	}

	return res, nil
}

// --- WebSocket client plumbing ---

// frame is the relay's JSON wire format, both directions.
type frame struct {
	Type    string `json:"type,omitempty"`
	Action  string `json:"action,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Filter  string `json:"filter,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Retain  bool   `json:"retain,omitempty"`
	Error   string `json:"error,omitempty"`
}

type wsClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	acks    chan error
	closed  chan struct{}
}

func dialClient(cfg runConfig, clientID string, idx int, onMessage func(idx int, topic string, payload []byte)) (*wsClient, error) {
	addr := cfg.WSAddrs[idx%len(cfg.WSAddrs)]
	u := url.URL{Scheme: "ws", Host: addr, Path: cfg.WSPath, RawQuery: "client_id=" + url.QueryEscape(clientID)}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s as %s: %w", addr, clientID, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &wsClient{
		conn:   conn,
		acks:   make(chan error, 16),
		closed: make(chan struct{}),
	}

	go func() {
		defer close(c.closed)
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			switch f.Type {
			case "message":
				if onMessage != nil {
					onMessage(idx, f.Topic, f.Payload)
				}
			case "ack", "pong":
				c.acks <- nil
			case "error":
				c.acks <- errors.New(f.Error)
			}
		}
	}()

	return c, nil
}

func (c *wsClient) request(f frame) error {
	c.writeMu.Lock()
	err := c.conn.WriteJSON(f)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case err := <-c.acks:
		return err
	case <-c.closed:
		return errors.New("connection closed")
	case <-time.After(10 * time.Second):
		return errors.New("ack timeout")
	}
}

func (c *wsClient) subscribe(filter string) error {
	return c.request(frame{Action: "subscribe", Filter: filter})
}

func (c *wsClient) unsubscribe(filter string) error {
	return c.request(frame{Action: "unsubscribe", Filter: filter})
}

func (c *wsClient) publish(topic string, payload []byte, retain bool) error {
	return c.request(frame{Action: "publish", Topic: topic, Payload: payload, Retain: retain})
}

func (c *wsClient) close() {
	_ = c.conn.Close()
	<-c.closed
}

func connectSubscribers(cfg runConfig, scenario string, runID int64, count int, onMessage func(idx int, topic string, payload []byte)) ([]*wsClient, error) {
	subs := make([]*wsClient, 0, count)
	for i := 0; i < count; i++ {
		clientID := fmt.Sprintf("%s-sub-%d-%d", scenario, runID, i)
		c, err := dialClient(cfg, clientID, i, onMessage)
		if err != nil {
			closeClients(subs)
			return nil, err
		}
		subs = append(subs, c)
	}
	return subs, nil
}

func closeClients(clients []*wsClient) {
	for _, c := range clients {
		if c != nil {
			c.close()
		}
	}
}

type publishParams struct {
	Scenario             string
	RunID                int64
	Publishers           int
	MessagesPerPublisher int
	Retain               bool
	TopicFor             func(pubIdx, msgIdx int) string
	OnPublished          func(topic string)
	ErrCount             *atomic.Int64
}

func runPublishers(cfg runConfig, params publishParams) int64 {
	var published atomic.Int64
	var wg sync.WaitGroup

	for p := 0; p < params.Publishers; p++ {
		wg.Add(1)
		go func(pubIdx int) {
			defer wg.Done()

			clientID := fmt.Sprintf("%s-pub-%d-%d", params.Scenario, params.RunID, pubIdx)
			c, err := dialClient(cfg, clientID, pubIdx, nil)
			if err != nil {
				params.ErrCount.Add(1)
				return
			}
			defer c.close()

			for m := 0; m < params.MessagesPerPublisher; m++ {
				topic := params.TopicFor(pubIdx, m)
				msgID := fmt.Sprintf("%s-%d-%d", params.Scenario, pubIdx, m)
				payload := makePayload(msgID, cfg.PayloadBytes)

				if err := c.publish(topic, payload, params.Retain); err != nil {
					params.ErrCount.Add(1)
					continue
				}
				published.Add(1)
				if params.OnPublished != nil {
					params.OnPublished(topic)
				}

				if cfg.PublishInterval > 0 {
					time.Sleep(cfg.PublishInterval)
				}
			}
		}(p)
	}

	wg.Wait()
	return published.Load()
}

// --- helpers ---

func makeDeviceTopics(base string, n int) []string {
	out := make([]string, n)
	metrics := []string{"temp", "humidity", "pressure", "voltage"}
	for i := range out {
		out[i] = fmt.Sprintf("%s/device/%d/metric/%s", base, i/len(metrics), metrics[i%len(metrics)])
	}
	return out
}

func wildcardFilter(base string, deviceTopics []string, idx int) string {
	switch idx % 5 {
	case 0:
		return deviceTopics[idx%len(deviceTopics)]
	case 1:
		return base + "/device/+/metric/temp"
	case 2:
		return base + "/device/+/metric/humidity"
	case 3:
		return base + "/device/+/metric/+"
	default:
		return base + "/#"
	}
}

func makePayload(msgID string, size int) []byte {
	prefix := msgID + "|"
	if size <= len(prefix) {
		return []byte(prefix)
	}
	buf := make([]byte, size)
	copy(buf, prefix)
	for i := len(prefix); i < size; i++ {
		buf[i] = byte('a' + (i % 26))
	}
	return buf
}

func messagesByPayloadBytes(payloadBytes, small, medium, large int) int {
	switch {
	case payloadBytes <= 512:
		return small
	case payloadBytes <= 8192:
		return medium
	default:
		return large
	}
}

func applyTopicOverrides(workload *topicWorkload, cfg runConfig) {
	if cfg.Publishers > 0 {
		workload.Publishers = cfg.Publishers
	}
	if cfg.Subscribers > 0 {
		workload.Subscribers = cfg.Subscribers
	}
	if cfg.MessagesPerPublisher > 0 {
		workload.MessagesPerPublisher = cfg.MessagesPerPublisher
	}
}

func scenarioDescription(scenario string) string {
	switch scenario {
	case "ws-fanin":
		return "Many WebSocket publishers send to one topic consumed by a few subscribers."
	case "ws-fanout":
		return "A few publishers fan out to a broad subscriber population."
	case "ws-wildcards":
		return "Publishers spread across device topics matched by mixed wildcard filters."
	case "ws-substorm":
		return "Subscribe/unsubscribe churn with wildcard filters under concurrent publishing."
	case "ws-retained":
		return "Retained writes across topic slots replayed to late subscribers."
	default:
		return ""
	}
}

func payloadSizeFromLabel(label string) (int, error) {
	switch strings.ToLower(label) {
	case "small":
		return 128, nil
	case "medium":
		return 2048, nil
	case "large":
		return 32768, nil
	default:
		return 0, fmt.Errorf("invalid payload label %q (use small|medium|large)", label)
	}
}

func parseAddrList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func waitForAtLeast(counter *atomic.Int64, target int64, timeout time.Duration) bool {
	if target <= 0 {
		return true
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if counter.Load() >= target {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return counter.Load() >= target
}

func ratio(received, expected int64) float64 {
	if expected <= 0 {
		if received > 0 {
			return 1
		}
		return 0
	}
	return float64(received) / float64(expected)
}

func appendJSONLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open json output %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to write json line: %w", err)
	}
	if _, err := f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(2)
}
