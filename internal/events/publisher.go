package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/IBM/sarama"

	"github.com/kurihiro0119/github-issue-extractor/internal/domain"
)

// JobEvent is published on every status transition of an extraction job
type JobEvent struct {
	JobID         string                  `json:"job_id"`
	Repository    string                  `json:"repository"`
	Status        domain.ExtractionStatus `json:"status"`
	IssuesFetched int                     `json:"issues_fetched"`
	PRsFetched    int                     `json:"prs_fetched"`
	Progress      int                     `json:"progress_percentage"`
	Error         string                  `json:"error,omitempty"`
	OccurredAt    time.Time               `json:"occurred_at"`
}

// NewJobEvent snapshots job as an event with the given status
func NewJobEvent(job *domain.Extraction, status domain.ExtractionStatus, cause error) JobEvent {
	ev := JobEvent{
		JobID:         job.ID,
		Repository:    job.Repository.String(),
		Status:        status,
		IssuesFetched: job.TotalIssuesFetched,
		PRsFetched:    job.TotalPRsFetched,
		Progress:      job.ProgressPercentage,
		OccurredAt:    time.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	return ev
}

// Publisher delivers job events
type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close() error
}

type nopPublisher struct{}

// NewNopPublisher returns a publisher that drops every event
func NewNopPublisher() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (nopPublisher) Close() error                            { return nil }

type kafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a synchronous producer to brokers
func NewKafkaPublisher(brokers []string, topic string) (Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = "github-issue-extractor"
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Retry.Backoff = 100 * time.Millisecond
	sc.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, sc)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherWithProducer(p, topic), nil
}

// NewKafkaPublisherWithProducer publishes through an existing producer
func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string) Publisher {
	return &kafkaPublisher{producer: p, topic: topic}
}

// Publish sends ev keyed by job id so a job's events stay ordered on one partition
func (k *kafkaPublisher) Publish(ctx context.Context, ev JobEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, _, err = k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.JobID),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

func (k *kafkaPublisher) Close() error {
	if k == nil || k.producer == nil {
		return nil
	}
	return k.producer.Close()
}
