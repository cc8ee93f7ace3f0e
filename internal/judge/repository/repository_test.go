package repository

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"judgerunner/internal/common/cache"
	"judgerunner/internal/common/mq"
	"judgerunner/internal/judge/model"
	appErr "judgerunner/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeProducer struct {
	mu       sync.Mutex
	topic    string
	messages []*mq.Message
	err      error
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topic = topic
	p.messages = append(p.messages, message)
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func sampleEvent() model.ReportEvent {
	return model.ReportEvent{
		SessionID:  "6f1c",
		Language:   "python",
		Version:    "3.12.1",
		State:      "passed",
		Pass:       true,
		TestCases:  3,
		Runtime:    0.5,
		FinishedAt: 1767225600,
	}
}

func TestMQReportPublisher(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewMQReportPublisher(producer, "judge.reports")
	if err := pub.PublishReport(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if producer.topic != "judge.reports" || len(producer.messages) != 1 {
		t.Fatalf("unexpected publish: %q %d", producer.topic, len(producer.messages))
	}
	msg := producer.messages[0]
	if msg.ID != "6f1c" {
		t.Fatalf("expected session id as message id, got %q", msg.ID)
	}
	if lang, _ := msg.GetHeader("language"); lang != "python" {
		t.Fatalf("expected language header, got %q", lang)
	}
	var got model.ReportEvent
	if err := json.Unmarshal(msg.Body, &got); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if got != sampleEvent() {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestMQReportPublisherErrors(t *testing.T) {
	cases := []struct {
		name  string
		pub   *MQReportPublisher
		event model.ReportEvent
		code  appErr.ErrorCode
	}{
		{name: "no producer", pub: NewMQReportPublisher(nil, "t"), event: sampleEvent(), code: appErr.ServiceUnavailable},
		{name: "no topic", pub: NewMQReportPublisher(&fakeProducer{}, ""), event: sampleEvent(), code: appErr.InvalidParams},
		{name: "no session", pub: NewMQReportPublisher(&fakeProducer{}, "t"), event: model.ReportEvent{}, code: appErr.ValidationFailed},
		{name: "broker down", pub: NewMQReportPublisher(&fakeProducer{err: errors.New("dial tcp: refused")}, "t"), event: sampleEvent(), code: appErr.ServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pub.PublishReport(context.Background(), tc.event)
			if !appErr.Is(err, tc.code) {
				t.Fatalf("expected code %d, got %v", tc.code, err)
			}
		})
	}
}

func newRedis(t *testing.T) (*cache.RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	if err != nil {
		t.Fatalf("redis cache: %v", err)
	}
	t.Cleanup(func() { rc.Close() })
	return rc, mr
}

func TestReportRepositoryRoundTrip(t *testing.T) {
	rc, mr := newRedis(t)
	repo := NewReportRepository(rc, time.Minute)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "6f1c"); !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
	if err := repo.PublishReport(ctx, sampleEvent()); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := repo.Get(ctx, "6f1c")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != sampleEvent() {
		t.Fatalf("unexpected report: %+v", got)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := repo.Get(ctx, "6f1c"); !appErr.Is(err, appErr.NotFound) {
		t.Fatalf("expected report to expire, got %v", err)
	}
}

func TestReportRepositoryRejectsEmptyID(t *testing.T) {
	repo := NewReportRepository(nil, time.Minute)
	if err := repo.Save(context.Background(), model.ReportEvent{}); !appErr.Is(err, appErr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := repo.Save(context.Background(), sampleEvent()); !appErr.Is(err, appErr.CacheError) {
		t.Fatalf("expected cache error without client, got %v", err)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &fakeProducer{}
	broken := &fakeProducer{err: errors.New("down")}
	fan := Fanout{NewMQReportPublisher(broken, "t"), NewMQReportPublisher(ok, "t")}
	err := fan.PublishReport(context.Background(), sampleEvent())
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if len(ok.messages) != 1 {
		t.Fatalf("healthy publisher must still receive the event")
	}
}
