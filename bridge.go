package bagplay

import (
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// RecordEnvelope is the JSON wrapper a played record travels in on the way
// to a broker.
type RecordEnvelope struct {
	Topic          string `json:"topic"`
	Datatype       string `json:"type"`
	MD5Sum         string `json:"md5sum"`
	Definition     string `json:"message_definition,omitempty"`
	CallerID       string `json:"callerid,omitempty"`
	Latching       string `json:"latching,omitempty"`
	RecordedSec    uint32 `json:"recorded_sec"`
	RecordedNsec   uint32 `json:"recorded_nsec"`
	PlaybackSec    uint32 `json:"playback_sec"`
	PlaybackNsec   uint32 `json:"playback_nsec"`
	BagplayVersion string `json:"version,omitempty"`
	Announcement   bool   `json:"announcement,omitempty"`
	Data           string `json:"data"`
}

// rawRegistrar is anything a wildcard raw handler can be registered on;
// both Player and MultiPlayer qualify.
type rawRegistrar interface {
	AddRawHandler(topic string, fn RawFunc)
}

// Republisher forwards every played record to the confirmation queue as a
// JSON envelope.  The first record on each topic is preceded by an
// announcement envelope carrying the topic's definition; the announcement
// repeats on the first record after the TTL has passed since the previous
// one, whether or not the topic was active in between, so consumers that
// join mid-playback still learn the schema.
type Republisher struct {
	queue     *ConfirmationQueue
	announced *ttlcache.Cache[string, struct{}]
}

// NewRepublisher creates a republisher draining into cq.  announceTTL
// bounds how long a topic announcement stays fresh.
func NewRepublisher(cq *ConfirmationQueue, announceTTL time.Duration) *Republisher {
	cache := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](announceTTL),
	)
	go cache.Start()
	return &Republisher{
		queue:     cq,
		announced: cache,
	}
}

// Attach registers the republisher's wildcard handler.
func (r *Republisher) Attach(reg rawRegistrar) {
	reg.AddRawHandler("*", r.handleRecord)
}

// Stop halts the announcement cache's expiry loop.
func (r *Republisher) Stop() {
	r.announced.Stop()
}

func (r *Republisher) handleRecord(topic string, raw *RawMessage, playback, recorded Time) {
	meta := raw.Metadata()

	if !r.announced.Has(topic) {
		r.announced.Set(topic, struct{}{}, ttlcache.DefaultTTL)
		announcement := RecordEnvelope{
			Topic:          topic,
			Datatype:       meta["type"],
			MD5Sum:         meta["md5sum"],
			Definition:     meta["message_definition"],
			BagplayVersion: BagplayVersion,
			Announcement:   true,
		}
		r.enqueue(&announcement)
	}

	r.enqueue(newRecordEnvelope(topic, raw, playback, recorded))
}

func (r *Republisher) enqueue(envelope *RecordEnvelope) {
	b, err := json.Marshal(envelope)
	if err != nil {
		log.Errorln("Failed to marshal the record envelope to json:", err)
		return
	}
	r.queue.Enqueue(b)
}

func newRecordEnvelope(topic string, raw *RawMessage, playback, recorded Time) *RecordEnvelope {
	meta := raw.Metadata()
	return &RecordEnvelope{
		Topic:          topic,
		Datatype:       meta["type"],
		MD5Sum:         meta["md5sum"],
		CallerID:       meta["callerid"],
		Latching:       meta["latching"],
		RecordedSec:    recorded.Sec,
		RecordedNsec:   recorded.Nsec,
		PlaybackSec:    playback.Sec,
		PlaybackNsec:   playback.Nsec,
		BagplayVersion: BagplayVersion,
		Data:           base64.StdEncoding.EncodeToString(raw.Bytes()),
	}
}

// PackageRecord wraps one played record into its JSON envelope.
func PackageRecord(topic string, raw *RawMessage, playback, recorded Time) ([]byte, error) {
	return json.Marshal(newRecordEnvelope(topic, raw, playback, recorded))
}
