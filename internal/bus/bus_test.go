// SPDX-License-Identifier: MIT
package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beatzero/internal/frame"
)

func seqFrame(n uint64) frame.AnalysisFrame {
	return frame.AnalysisFrame{Seq: n, Timestamp: time.Duration(n) * time.Millisecond}
}

func TestFanOutInOrder(t *testing.T) {
	b := New(WithDefaultQueueDepth(32))
	subs := make([]*Subscription, 3)
	for i := range subs {
		s, err := b.Subscribe()
		if err != nil {
			t.Fatal(err)
		}
		subs[i] = s
	}

	const n = 20
	for i := range uint64(n) {
		if got := b.Publish(seqFrame(i)); got != 3 {
			t.Fatalf("Publish reached %d subscriptions; want 3", got)
		}
	}
	b.Close(nil)

	ctx := context.Background()
	for i, s := range subs {
		for want := range uint64(n) {
			f, err := s.Next(ctx)
			if err != nil {
				t.Fatalf("sub %d: Next: %v", i, err)
			}
			if f.Seq != want {
				t.Fatalf("sub %d: got seq %d; want %d", i, f.Seq, want)
			}
		}
		if _, err := s.Next(ctx); !errors.Is(err, ErrClosed) {
			t.Errorf("sub %d: after drain err = %v; want ErrClosed", i, err)
		}
		if s.Err() != nil {
			t.Errorf("sub %d: terminal status %v; want nil", i, s.Err())
		}
	}
}

func TestDropOldestKeepsNewest(t *testing.T) {
	b := New()
	const depth = 4
	s, _ := b.Subscribe(WithQueueDepth(depth))

	done := make(chan struct{})
	go func() {
		// Nobody reads; Publish must still return promptly.
		for i := range uint64(100) {
			b.Publish(seqFrame(i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	if s.Dropped() != 100-depth {
		t.Errorf("Dropped() = %d; want %d", s.Dropped(), 100-depth)
	}
	for want := uint64(100 - depth); want < 100; want++ {
		f, ok := s.TryNext()
		if !ok || f.Seq != want {
			t.Fatalf("got %d, %v; want %d", f.Seq, ok, want)
		}
	}
}

func TestDropNewestKeepsOldest(t *testing.T) {
	b := New(WithDefaultOverflow(DropNewest))
	s, _ := b.Subscribe(WithQueueDepth(3))
	for i := range uint64(10) {
		b.Publish(seqFrame(i))
	}
	for want := range uint64(3) {
		if f, _ := s.TryNext(); f.Seq != want {
			t.Errorf("got seq %d; want %d", f.Seq, want)
		}
	}
	if s.Dropped() != 7 {
		t.Errorf("Dropped() = %d; want 7", s.Dropped())
	}
}

func TestSlowConsumerDoesNotAffectOthers(t *testing.T) {
	b := New()
	slow, _ := b.Subscribe(WithQueueDepth(2), WithName("slow"))
	fast, _ := b.Subscribe(WithQueueDepth(64), WithName("fast"))

	for i := range uint64(50) {
		b.Publish(seqFrame(i))
	}
	if fast.Dropped() != 0 || fast.Len() != 50 {
		t.Errorf("fast: len %d dropped %d", fast.Len(), fast.Dropped())
	}
	if slow.Dropped() != 48 {
		t.Errorf("slow: dropped %d; want 48", slow.Dropped())
	}

	st := b.Stats()
	if st.Published != 50 || len(st.Subscribers) != 2 || st.Dropped() != 48 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.Subscribers[0].Name != "slow" {
		t.Errorf("stats not in subscription order: %+v", st.Subscribers)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	a, _ := b.Subscribe()
	c, _ := b.Subscribe()

	b.Unsubscribe(a)
	if got := b.Publish(seqFrame(1)); got != 1 {
		t.Errorf("Publish reached %d; want 1", got)
	}
	if _, err := a.Next(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("unsubscribed Next err = %v", err)
	}
	if !errors.Is(a.Err(), ErrUnsubscribed) {
		t.Errorf("Err() = %v; want ErrUnsubscribed", a.Err())
	}
	if c.Len() != 1 {
		t.Errorf("other subscription affected: len %d", c.Len())
	}
	b.Unsubscribe(a) // no-op
}

func TestCloseUnblocksAndIsIdempotent(t *testing.T) {
	b := New()
	s, _ := b.Subscribe()
	failure := errors.New("source failed")

	errc := make(chan error, 1)
	go func() {
		_, err := s.Next(context.Background())
		errc <- err
	}()

	time.Sleep(10 * time.Millisecond)
	b.Close(failure)
	b.Close(nil)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Next err = %v; want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Next not unblocked by Close")
	}
	if !errors.Is(s.Err(), failure) || !errors.Is(b.Status(), failure) {
		t.Errorf("status = %v / %v; want %v", s.Err(), b.Status(), failure)
	}
	if b.Publish(seqFrame(1)) != 0 {
		t.Error("Publish after Close reached subscribers")
	}
	if _, err := b.Subscribe(); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe after Close err = %v", err)
	}
}

func TestNextContextCancel(t *testing.T) {
	b := New()
	s, _ := b.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next err = %v; want deadline exceeded", err)
	}
}

type recordingConsumer struct {
	mu       sync.Mutex
	seqs     []uint64
	failOn   uint64
	stopOn   uint64
	finished bool
	status   error
}

func (r *recordingConsumer) Receive(f frame.AnalysisFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Seq == r.stopOn {
		return ErrDisconnect
	}
	r.seqs = append(r.seqs, f.Seq)
	if f.Seq == r.failOn {
		return errors.New("write failed")
	}
	return nil
}

func (r *recordingConsumer) Finish(status error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = true
	r.status = status
	return nil
}

func TestServeDeliversAndFinishes(t *testing.T) {
	b := New()
	s, _ := b.Subscribe()
	c := &recordingConsumer{failOn: 2, stopOn: 1000}

	errc := make(chan error, 1)
	go func() { errc <- Serve(context.Background(), s, c) }()

	for i := range uint64(5) {
		b.Publish(seqFrame(i))
	}
	b.Close(nil)

	if err := <-errc; err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if len(c.seqs) != 5 || !c.finished || c.status != nil {
		t.Errorf("consumer saw %v finished=%v status=%v", c.seqs, c.finished, c.status)
	}
	if s.errors.Load() != 1 {
		t.Errorf("errors counted = %d; want 1", s.errors.Load())
	}
}

func TestServeDisconnect(t *testing.T) {
	b := New()
	s, _ := b.Subscribe()
	other, _ := b.Subscribe()
	c := &recordingConsumer{failOn: 1000, stopOn: 3}

	errc := make(chan error, 1)
	go func() { errc <- Serve(context.Background(), s, c) }()
	for i := range uint64(5) {
		b.Publish(seqFrame(i))
	}

	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !errors.Is(c.status, ErrUnsubscribed) {
		t.Errorf("finish status = %v; want ErrUnsubscribed", c.status)
	}
	if b.Publish(seqFrame(9)) != 1 || other.Len() != 6 {
		t.Errorf("remaining subscription affected: len %d", other.Len())
	}
}

func TestServeWaitsForCloseAfterCancel(t *testing.T) {
	b := New()
	s, _ := b.Subscribe()
	c := &recordingConsumer{failOn: 1000, stopOn: 1000}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, s, c) }()

	cancel()
	// The producer flushes one last frame and closes after the cancel.
	time.Sleep(20 * time.Millisecond)
	b.Publish(seqFrame(7))
	b.Close(nil)

	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if !c.finished || c.status != nil || len(c.seqs) != 1 || c.seqs[0] != 7 {
		t.Errorf("consumer saw %v finished=%v status=%v", c.seqs, c.finished, c.status)
	}
}

func TestServeCountsErrorsWhileDraining(t *testing.T) {
	b := New()
	s, _ := b.Subscribe()
	c := &recordingConsumer{failOn: 8, stopOn: 10}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, s, c) }()

	// Frames published between the cancel and the close are drained.
	cancel()
	time.Sleep(20 * time.Millisecond)
	for i := range uint64(12) {
		b.Publish(seqFrame(i))
	}
	b.Close(nil)

	if err := <-errc; err != nil {
		t.Fatal(err)
	}
	if s.errors.Load() != 1 {
		t.Errorf("errors counted = %d; want 1", s.errors.Load())
	}
	// Draining stops at the consumer that went away.
	if len(c.seqs) != 10 || c.seqs[9] != 9 {
		t.Errorf("consumer saw %v", c.seqs)
	}
	if !c.finished {
		t.Error("consumer not finished")
	}
}

func TestParseOverflow(t *testing.T) {
	tests := []struct {
		in      string
		want    Overflow
		wantErr bool
	}{
		{"drop_oldest", DropOldest, false},
		{"", DropOldest, false},
		{"DROP_NEWEST", DropNewest, false},
		{"block", DropOldest, true},
	}
	for _, tt := range tests {
		got, err := ParseOverflow(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseOverflow(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func BenchmarkPublish(b *testing.B) {
	bus := New()
	for range 4 {
		bus.Subscribe(WithQueueDepth(16))
	}
	f := seqFrame(1)
	b.ReportAllocs()
	for b.Loop() {
		bus.Publish(f)
	}
}
