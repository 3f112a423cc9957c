//go:build !no_mqtt

// Package mqtt carries the gateway command surface over an MQTT broker and
// publishes gateway events and Home Assistant discovery.
package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tidwall/sjson"

	"otbr-gateway/internal/gateway"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	ClientID    string
	TopicPrefix string
	Discovery   bool
	Version     string
}

// mqttClient is the part of pahomqtt.Client the bridge uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Bridge connects the gateway to MQTT. Requests arrive on
// <prefix>/request/<method> and replies go to <prefix>/response/<method>.
type Bridge struct {
	client mqttClient
	gw     *gateway.Gateway
	cfg    Config
	prefix string
	logger *slog.Logger
	unsub  func()
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex // guards stopping and wg.Add
	stopping bool
	wg       sync.WaitGroup
}

func newBridge(gw *gateway.Gateway, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.ClientID == "" {
		cfg.ClientID = "otbr-gateway"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		gw:     gw,
		cfg:    cfg,
		prefix: cfg.TopicPrefix,
		logger: logger.With("component", "mqtt"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(gw *gateway.Gateway, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(gw, cfg, logger)

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(b.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetWill(b.prefix+"/bridge/state", "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.onConnect()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	b.client = client
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		b.cancel()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

// Start subscribes to gateway events and begins MQTT publishing.
func (b *Bridge) Start() {
	b.unsub = b.gw.Events().OnAll(b.handleEvent)
	b.logger.Info("MQTT bridge started", "prefix", b.prefix)
}

// Stop publishes offline state, waits for in-flight requests and disconnects.
func (b *Bridge) Stop() {
	if b.unsub != nil {
		b.unsub()
	}
	b.mu.Lock()
	b.stopping = true
	b.mu.Unlock()
	b.cancel()
	b.wg.Wait()
	b.publishBridgeState("offline")
	b.client.Disconnect(1000)
	b.logger.Info("MQTT bridge stopped")
}

func (b *Bridge) onConnect() {
	b.publishBridgeState("online")
	if b.cfg.Discovery {
		for _, msg := range buildDiscovery(b.prefix, b.cfg.ClientID, b.cfg.Version) {
			b.publish(msg.Topic, msg.Payload, true)
		}
	} else {
		for _, msg := range buildRemoveDiscovery(b.cfg.ClientID) {
			b.publish(msg.Topic, msg.Payload, true)
		}
	}
	b.subscribeRequests()
	b.goPublishStatus()
}

func (b *Bridge) subscribeRequests() {
	topic := b.prefix + "/request/+"
	token := b.client.Subscribe(topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		method := strings.TrimPrefix(msg.Topic(), b.prefix+"/request/")
		payload := msg.Payload()
		b.goRun(func() { b.handleRequest(method, payload) })
	})
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT subscribe timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe", "topic", topic, "err", err)
		}
	}()
}

// goRun runs fn on its own goroutine unless the bridge is stopping. Paho
// delivers messages in order on one goroutine, so a scan must not block it.
func (b *Bridge) goRun(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopping {
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

func (b *Bridge) handleRequest(method string, payload []byte) {
	topic := b.prefix + "/response/" + method

	doc, err := b.gw.Call(b.ctx, method, payload)
	if errors.Is(err, gateway.ErrUnknownCommand) {
		b.logger.Warn("unknown method on request topic", "method", method)
		out, _ := sjson.SetBytes([]byte(`{}`), "error", "unknown method")
		b.publish(topic, out, false)
		return
	}
	if err != nil {
		b.logger.Error("mqtt call", "method", method, "err", err)
		return
	}
	reply, err := doc.MarshalJSON()
	if err != nil {
		b.logger.Error("encode reply", "method", method, "err", err)
		return
	}
	b.publish(topic, reply, false)
}

func (b *Bridge) handleEvent(event gateway.Event) {
	payload, err := eventPayload(event)
	if err != nil {
		b.logger.Warn("encode event", "type", event.Type, "err", err)
		return
	}
	b.publish(b.prefix+"/event/"+event.Type, payload, false)

	switch event.Type {
	case gateway.EventNetworkState, gateway.EventConfigChanged:
		b.goPublishStatus()
	}
}

// eventPayload wraps the event data with its type and time. Events emitted
// directly on the bus carry no time and get the publish time.
func eventPayload(event gateway.Event) ([]byte, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	out, err := sjson.SetBytes([]byte(`{}`), "type", event.Type)
	if err != nil {
		return nil, err
	}
	out, err = sjson.SetRawBytes(out, "data", data)
	if err != nil {
		return nil, err
	}
	ts := event.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return sjson.SetBytes(out, "time", ts.UTC().Format(time.RFC3339))
}

// goPublishStatus refreshes the retained <prefix>/state document. The
// status read takes the stack gate, so it never runs on an event callback.
func (b *Bridge) goPublishStatus() {
	b.goRun(func() {
		ctx, cancel := context.WithTimeout(b.ctx, 10*time.Second)
		defer cancel()
		st, err := b.gw.Status(ctx)
		if err != nil {
			b.logger.Warn("read status", "err", err)
			return
		}
		b.publish(b.prefix+"/state", mustJSON(st), true)
	})
}

func (b *Bridge) publishBridgeState(state string) {
	b.publish(b.prefix+"/bridge/state", []byte(state), true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			b.logger.Warn("MQTT publish timeout", "topic", topic)
		} else if err := token.Error(); err != nil {
			b.logger.Warn("MQTT publish error", "topic", topic, "err", err)
		}
	}()
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
