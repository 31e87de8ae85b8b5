package bagplay

import (
	"io"
)

// Message is one deserialized bag message.  Implementations come from the
// message library the caller links in; the player only drives Deserialize.
type Message interface {
	Deserialize(data []byte) error
}

// MessageCapability is the contract an inflating handler carries for its
// message type: the identity used for filter matching at registration time
// and the factory/deserializer used at dispatch time.
type MessageCapability interface {
	MD5Sum() string
	Datatype() string
	NewMessage() Message
}

// MessageFunc receives an inflated message.
type MessageFunc func(topic string, msg Message, playback, recorded Time)

// RawFunc receives the raw body view.  The view borrows the player's body
// buffer and is valid only for the duration of the call; retain by copying.
type RawFunc func(topic string, raw *RawMessage, playback, recorded Time)

// RawMessage exposes one record's body bytes and metadata without
// deserializing them.
type RawMessage struct {
	body     []byte
	desc     *TopicDescriptor
	callerID string
	latching string
}

// Bytes returns the borrowed body bytes.
func (r *RawMessage) Bytes() []byte { return r.body }

// Len returns the body length.
func (r *RawMessage) Len() int { return len(r.body) }

// Serialize copies the body bytes to out.
func (r *RawMessage) Serialize(out io.Writer) error {
	_, err := out.Write(r.body)
	return err
}

// Metadata returns the connection metadata associated with the record.
func (r *RawMessage) Metadata() map[string]string {
	return map[string]string{
		"type":               r.desc.Datatype,
		"md5sum":             r.desc.MD5Sum,
		"message_definition": r.desc.Definition,
		"callerid":           r.callerID,
		"latching":           r.latching,
	}
}

type handlerEntry struct {
	topic    string
	md5sum   string
	datatype string
	inflate  bool
	cap      MessageCapability
	fn       MessageFunc
	rawFn    RawFunc
}

// handlerTable is the ordered list of filter-handler entries.  Registration
// order is dispatch order.
type handlerTable struct {
	entries []handlerEntry
}

func (t *handlerTable) addTyped(topic string, cap MessageCapability, fn MessageFunc) {
	t.entries = append(t.entries, handlerEntry{
		topic:    topic,
		md5sum:   cap.MD5Sum(),
		datatype: cap.Datatype(),
		inflate:  true,
		cap:      cap,
		fn:       fn,
	})
}

func (t *handlerTable) addTypedRaw(topic string, cap MessageCapability, fn RawFunc) {
	t.entries = append(t.entries, handlerEntry{
		topic:    topic,
		md5sum:   cap.MD5Sum(),
		datatype: cap.Datatype(),
		rawFn:    fn,
	})
}

func (t *handlerTable) addRaw(topic string, fn RawFunc) {
	t.entries = append(t.entries, handlerEntry{
		topic:    topic,
		md5sum:   "*",
		datatype: "*",
		rawFn:    fn,
	})
}

// dispatch runs one record through the table.  A hash or datatype mismatch
// stops the scan for this record, matching the recorder's historical
// behavior; continueOnMismatch switches to skipping just the mismatched
// entry.  The message is inflated at most once and shared by every
// inflating entry.
func (t *handlerTable) dispatch(raw *RawMessage, playback, recorded Time, continueOnMismatch bool) {
	var inflated Message
	inflateFailed := false
	for i := range t.entries {
		h := &t.entries[i]

		if h.topic != "*" && h.topic != raw.desc.Topic {
			continue
		}
		if h.md5sum != "*" && h.md5sum != raw.desc.MD5Sum {
			if continueOnMismatch {
				continue
			}
			break
		}
		if h.datatype != "*" && raw.desc.Datatype != "*" && h.datatype != raw.desc.Datatype {
			if continueOnMismatch {
				continue
			}
			break
		}

		if h.inflate {
			if inflateFailed {
				continue
			}
			if inflated == nil {
				msg := h.cap.NewMessage()
				if err := msg.Deserialize(raw.body); err != nil {
					log.Errorln("Failed to deserialize message on topic", raw.desc.Topic, ":", err)
					inflateFailed = true
					continue
				}
				inflated = msg
			}
			h.fn(raw.desc.Topic, inflated, playback, recorded)
		} else {
			h.rawFn(raw.desc.Topic, raw, playback, recorded)
		}
	}
}
