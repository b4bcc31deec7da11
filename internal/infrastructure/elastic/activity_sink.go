// Package elastic indexes account activity events into Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/oksasatya/account-auth/internal/application"
)

type ActivitySink struct {
	es      *elasticsearch.Client
	index   string
	timeout time.Duration
	logger  logrus.FieldLogger
}

func NewActivitySink(es *elasticsearch.Client, index string, logger logrus.FieldLogger) *ActivitySink {
	return &ActivitySink{es: es, index: index, timeout: 3 * time.Second, logger: logger}
}

func (s *ActivitySink) Record(ctx context.Context, ev application.ActivityEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: uuid.NewString(),
		Body:       bytes.NewReader(b),
		Refresh:    "false",
	}
	c, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	res, err := req.Do(c, s.es)
	if err != nil {
		return fmt.Errorf("es index: %w", err)
	}
	defer func() { _ = res.Body.Close() }()
	if res.IsError() {
		s.logger.WithFields(logrus.Fields{"status": res.Status(), "event": ev.EventType}).Warn("es index response error")
		return fmt.Errorf("es index: %s", res.Status())
	}
	return nil
}

var _ application.ActivitySink = (*ActivitySink)(nil)
