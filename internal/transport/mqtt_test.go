// SPDX-License-Identifier: MIT
package transport

import (
	"errors"
	"testing"
	"time"

	"beatzero/internal/config"
	"beatzero/internal/frame"
	applog "beatzero/internal/log"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	messages     []published
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.messages = append(c.messages, published{topic, qos, retained, payload.([]byte)})
	return completedToken(c.err)
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

func TestMQTTPublisher(t *testing.T) {
	cfg := config.Default().Transport.MQTT
	cfg.QoS = 1
	client := &fakeClient{}
	p := newMQTTPublisher(cfg, client, applog.New("MQTT"))

	if err := p.Receive(testFrame(t, 7, true)); err != nil {
		t.Fatalf("Receive error: %v", err)
	}
	if err := p.Finish(nil); err != nil {
		t.Fatalf("Finish error: %v", err)
	}
	if err := p.Close(); err != nil || !client.disconnected {
		t.Errorf("Close = %v, disconnected %v", err, client.disconnected)
	}

	if len(client.messages) != 2 {
		t.Fatalf("published %d messages, want 2", len(client.messages))
	}
	msg := client.messages[0]
	if msg.topic != "beatzero/music_detection" || msg.retained || msg.qos != 1 {
		t.Errorf("frame message = %+v", msg)
	}
	f, err := frame.Decode(msg.payload)
	if err != nil || f.Seq != 7 || !f.Onset.Onset {
		t.Errorf("decoded frame = %+v, %v", f, err)
	}

	status := client.messages[1]
	if status.topic != "beatzero/status" || !status.retained {
		t.Errorf("status message = %+v", status)
	}
	rec, err := frame.DecodeStatus(status.payload)
	if err != nil || rec.Status != frame.StatusEnd {
		t.Errorf("status record = %+v, %v", rec, err)
	}
}

func TestMQTTPublisherErrors(t *testing.T) {
	cfg := config.Default().Transport.MQTT
	cfg.QoS = 1
	client := &fakeClient{err: errors.New("not connected")}
	p := newMQTTPublisher(cfg, client, applog.New("MQTT"))

	if err := p.Receive(testFrame(t, 0, false)); err == nil {
		t.Error("publish error not reported")
	}

	// QoS 0 does not wait for the broker.
	cfg.QoS = 0
	p = newMQTTPublisher(cfg, client, applog.New("MQTT"))
	if err := p.Receive(testFrame(t, 0, false)); err != nil {
		t.Errorf("QoS 0 Receive = %v", err)
	}

	client.err = nil
	if err := p.Finish(errors.New("device unplugged")); err != nil {
		t.Fatal(err)
	}
	rec, _ := frame.DecodeStatus(client.messages[len(client.messages)-1].payload)
	if rec.Status != frame.StatusError || rec.Error != "device unplugged" {
		t.Errorf("status record = %+v", rec)
	}
}

func TestMQTTPublishTimeout(t *testing.T) {
	if err := wait(&fakeToken{done: make(chan struct{})}); !errors.Is(err, ErrPublishTimeout) {
		t.Errorf("wait = %v, want ErrPublishTimeout", err)
	}
}
