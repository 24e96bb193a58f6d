// Package mirror implements an optional, best-effort secondary sink that
// mirrors appended LogRecords into MongoDB, satisfying the session.Mirror
// interface the capture pipeline's SessionStore depends on.
package mirror

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/logrecord"
)

const (
	database      = "captureproxy"
	collection    = "logs"
	queueCapacity = 512
	insertTimeout = 5 * time.Second
)

// mirrorDoc is the BSON shape a LogRecord is mirrored as; SessionID links
// it back to the on-disk session it belongs to.
type mirrorDoc struct {
	SessionID string              `bson:"sessionId"`
	Record    *logrecord.LogRecord `bson:"record"`
}

// Mongo mirrors appended records into a MongoDB collection on a background
// goroutine. Enqueue never blocks the caller: when the internal queue is
// full, the record is dropped and counted, never allowed to slow down the
// session store's append path.
type Mongo struct {
	client  *mongo.Client
	coll    *mongo.Collection
	log     logging.Logger
	queue   chan mirrorDoc
	done    chan struct{}
	dropped int64
}

// Connect dials uri, ensures a host index on the mirror collection, and
// starts the background drain worker.
func Connect(uri string, log logging.Logger) (*Mongo, error) {
	log = logging.OrDefault(log)

	serverAPI := options.ServerAPI(options.ServerAPIVersion1)
	opts := options.Client().ApplyURI(uri).SetServerAPIOptions(serverAPI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}

	coll := client.Database(database).Collection(collection)
	if _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "record.host", Value: 1}},
	}); err != nil {
		log.Warn("mirror: create index failed: %v", err)
	}

	m := &Mongo{
		client: client,
		coll:   coll,
		log:    log,
		queue:  make(chan mirrorDoc, queueCapacity),
		done:   make(chan struct{}),
	}
	go m.drain()
	return m, nil
}

// Enqueue queues record for best-effort mirroring. It never blocks: a full
// queue drops the record.
func (m *Mongo) Enqueue(sessionID string, record *logrecord.LogRecord) {
	select {
	case m.queue <- mirrorDoc{SessionID: sessionID, Record: record}:
	default:
		m.dropped++
		m.log.Warn("mirror: queue full, dropping record %s (total dropped: %d)", record.ID, m.dropped)
	}
}

func (m *Mongo) drain() {
	defer close(m.done)
	for doc := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		_, err := m.coll.InsertOne(ctx, doc)
		cancel()
		if err != nil {
			m.log.Warn("mirror: insert failed for session %s: %v", doc.SessionID, err)
		}
	}
}

// Close stops accepting new records, waits for the queue to drain, and
// disconnects from MongoDB.
func (m *Mongo) Close() error {
	close(m.queue)
	<-m.done
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
