package bagplay

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned by Open on a player that has already been closed.
// A closed player cannot be reopened; create a new one instead.
var ErrClosed = errors.New("player is closed")

// unboundedFieldLen is the upper bound for variable-length header fields.
const unboundedFieldLen = math.MaxInt32

// pendingRecord is the next message record, fully read and waiting for
// dispatch.
type pendingRecord struct {
	topic    string
	recorded Duration
	playback Time
	bodyLen  uint32
	callerID string
	latching string
}

// Player replays one bag file: it detects the format version, walks the
// records in file order, translates recorded durations to playback
// timestamps and dispatches each message record to the registered handlers.
//
// The player is single threaded and pull driven.  Advance blocks only on
// file reads; wallclock pacing belongs to the caller.
type Player struct {
	stream *byteStream

	versionMajor int
	versionMinor int
	version      int

	mapper   timeMapper
	topics   *topicRegistry
	handlers handlerTable

	headerBuf []byte
	bodyBuf   []byte

	next      pendingRecord
	duration  Duration
	soleTopic string

	done   bool
	opened bool
	closed bool

	// ContinueOnMismatch switches the dispatch scan from the historical
	// stop-on-hash-mismatch behavior to skipping just the mismatched
	// handler.  Set before the first Advance.
	ContinueOnMismatch bool
}

// NewPlayer creates an idle player.  timeScale is the playback scale: 2.0
// maps one recorded second to half a playback second.  Non-positive scales
// fall back to 1.0.
func NewPlayer(timeScale float64) *Player {
	if timeScale <= 0 {
		timeScale = 1.0
	}
	return &Player{
		mapper: timeMapper{scale: timeScale},
		topics: newTopicRegistry(),
		done:   true,
	}
}

// Open opens a bag file and primes the first record.  origin is the
// playback time the bag's first message maps to.  Future format versions
// fail unless allowFuture is set.
func (p *Player) Open(path string, origin Time, allowFuture bool) error {
	if p.closed {
		return ErrClosed
	}
	if p.opened {
		return errors.New("player is already open")
	}

	if err := CheckExtension(path); err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open bag file %q", path)
	}
	p.stream = newByteStream(file)
	p.mapper.origin = origin

	if err := p.detectVersion(path); err != nil {
		p.stream.close()
		p.stream = nil
		return err
	}

	if !allowFuture && p.version > maxVersion {
		p.stream.close()
		p.stream = nil
		return errors.Errorf("%q has version %d.%d, but the reader only knows about versions up to %d.%d",
			path, p.versionMajor, p.versionMinor, maxVersionMajor, maxVersionMinor)
	}

	p.done = false
	p.opened = true
	playersOpen.Inc()
	p.readNextRecord()
	return nil
}

// detectVersion reads the banner line and, for V0.0 and V1.0, the topic
// preamble.
func (p *Player) detectVersion(path string) error {
	line, err := p.stream.readLine()
	if err != nil {
		return errors.Wrapf(err, "failed to read banner from %q", path)
	}

	major, minor, ok := ParseBanner(line)
	if !ok {
		if strings.HasPrefix(line, "#") {
			major, minor = 1, 0
		} else {
			major, minor = 0, 0
		}
	}
	p.versionMajor = major
	p.versionMinor = minor
	p.version = major*100 + minor

	quantity := 0
	switch {
	case p.version == 0:
		log.Warnln("No #ROS banner found in", path, "- assuming a V0.0 bag, but more likely a corrupt file, or not really a bag at all")
		if err := p.stream.rewind(); err != nil {
			return err
		}
		quantity = 1
	case p.version == 100:
		countLine, err := p.stream.readLine()
		if err != nil {
			return errors.Wrap(err, "failed to read topic count line")
		}
		quantity, err = strconv.Atoi(strings.TrimSpace(countLine))
		if err != nil {
			return errors.Wrapf(err, "bad topic count line %q", countLine)
		}
	}

	for i := 0; i < quantity; i++ {
		topic, err := p.stream.readLine()
		if err != nil {
			return errors.Wrap(err, "failed to read preamble topic name")
		}
		md5sum, err := p.stream.readLine()
		if err != nil {
			return errors.Wrap(err, "failed to read preamble topic hash")
		}
		datatype, err := p.stream.readLine()
		if err != nil {
			return errors.Wrap(err, "failed to read preamble topic datatype")
		}
		p.topics.register(topic, md5sum, remapDatatype(datatype), "")
		if p.soleTopic == "" {
			p.soleTopic = topic
		}
	}
	return nil
}

// remapDatatype rewrites retired core datatype names wherever a datatype is
// read from the file.
func remapDatatype(datatype string) string {
	if mapped, found := legacyDatatypeRemap[datatype]; found {
		return mapped
	}
	return datatype
}

// VersionString returns the detected bag version as "major.minor".
func (p *Player) VersionString() string {
	return fmt.Sprintf("%d.%d", p.versionMajor, p.versionMinor)
}

// Done reports whether the stream is exhausted or unrecoverable.
func (p *Player) Done() bool { return p.done }

// FirstDuration returns the recorded duration of the earliest message seen
// so far.
func (p *Player) FirstDuration() Duration { return p.mapper.firstDuration }

// Duration returns the recorded span from the first message to the pending
// one.
func (p *Player) Duration() Duration { return p.duration }

// NextTime returns the playback time of the pending record, or false when
// the player is done.
func (p *Player) NextTime() (Time, bool) {
	if p.done {
		return Time{}, false
	}
	return p.next.playback, true
}

// AddHandler registers an inflating handler.  The channel filter comes from
// topic ("*" matches any channel); the hash and datatype filters come from
// the capability.
func (p *Player) AddHandler(topic string, cap MessageCapability, fn MessageFunc) {
	p.handlers.addTyped(topic, cap, fn)
}

// AddFilteredRawHandler registers a handler that filters like a typed one
// but receives the raw body view instead of an inflated message.
func (p *Player) AddFilteredRawHandler(topic string, cap MessageCapability, fn RawFunc) {
	p.handlers.addTypedRaw(topic, cap, fn)
}

// AddRawHandler registers a handler with wildcard hash and datatype filters
// receiving the raw body view.
func (p *Player) AddRawHandler(topic string, fn RawFunc) {
	p.handlers.addRaw(topic, fn)
}

// Advance dispatches the pending record through the handler table and reads
// the next one.  It returns false once the player is done.
func (p *Player) Advance() bool {
	if p.done {
		return false
	}

	if desc := p.topics.lookup(p.next.topic); desc != nil {
		raw := &RawMessage{
			body:     p.bodyBuf[:p.next.bodyLen],
			desc:     desc,
			callerID: p.next.callerID,
			latching: p.next.latching,
		}
		recordsPlayed.Inc()
		bytesPlayed.Add(float64(p.next.bodyLen))
		p.handlers.dispatch(raw, p.next.playback, TimeOf(p.next.recorded), p.ContinueOnMismatch)
	}

	p.readNextRecord()
	return true
}

// Shift moves the time translation: both the origin and the pending
// record's playback time advance by delta.
func (p *Player) Shift(delta time.Duration) {
	p.mapper.shift(delta)
	if !p.done {
		p.next.playback = p.next.playback.Add(delta)
	}
}

// Close releases the stream and drops the topic registry, handler table and
// buffers.  Close is terminal: Advance on a closed player returns false and
// does no I/O, and the player cannot be reopened.
func (p *Player) Close() {
	if p.closed {
		return
	}
	if p.stream != nil {
		p.stream.close()
		p.stream = nil
	}
	p.topics.clear()
	p.handlers.entries = nil
	p.headerBuf = nil
	p.bodyBuf = nil
	if p.opened {
		playersOpen.Dec()
	}
	p.done = true
	p.closed = true
}

// failRecord marks a fatal parse failure.  The pending record, if any, has
// already been dispatched; the offending one never is.
func (p *Player) failRecord(err error) {
	log.Errorln("Fatal bag record error:", err)
	parseFailures.Inc()
	p.done = true
}

// readNextRecord reads the next message record, maintaining the first
// duration and the pending record state.  Definition, file-header and
// index records are consumed silently.
func (p *Player) readNextRecord() bool {
	if p.stream == nil || !p.stream.good() {
		p.done = true
		return false
	}

	var dur Duration

	if p.version >= 102 {
		for {
			op, bodyLen, err := p.parseV102Header(&dur)
			if err == errCleanEOF {
				p.done = true
				return false
			}
			if err != nil {
				p.failRecord(err)
				return false
			}
			if op == OpMsgData {
				p.next.bodyLen = bodyLen
				break
			}
			// Definition, file header and index bodies carry nothing to
			// dispatch; throw the bytes away and keep reading.
			definitionsSkipped.Inc()
			if err := p.stream.skip(bodyLen); err != nil {
				p.failRecord(errors.Wrap(err, "failed to skip record body"))
				return false
			}
		}
	} else {
		if !p.readLegacyRecordPrefix(&dur) {
			return false
		}
	}

	if p.mapper.firstDuration.IsZero() {
		p.mapper.firstDuration = dur
	}
	if dur.Before(p.mapper.firstDuration) {
		log.Warnln("Messages in bag were not saved in chronological order:",
			p.mapper.firstDuration.String(), ">", dur.String())
		outOfOrderWarnings.Inc()
		p.mapper.firstDuration = dur
	}

	p.duration = dur.Sub(p.mapper.firstDuration)
	p.next.recorded = dur
	p.next.playback = p.mapper.playbackTime(dur)

	if uint32(cap(p.bodyBuf)) < p.next.bodyLen {
		p.bodyBuf = make([]byte, p.next.bodyLen*2)
	}
	p.bodyBuf = p.bodyBuf[:cap(p.bodyBuf)]

	if err := p.stream.readExact(p.bodyBuf[:p.next.bodyLen]); err != nil {
		if err == errCleanEOF {
			err = errTruncated
		}
		p.failRecord(errors.Wrap(err, "failed to read record body"))
		return false
	}
	return true
}

// parseV102Header reads and validates one V1.02 record header plus the body
// length.  On OpMsgData the pending record identity fields are filled in
// and the body is left unread.
func (p *Player) parseV102Header(dur *Duration) (byte, uint32, error) {
	var scratch [4]byte

	if err := p.stream.readExact(scratch[:]); err != nil {
		return 0, 0, err
	}
	headerLen := fieldUint32(scratch[:])

	if uint32(len(p.headerBuf)) < headerLen {
		p.headerBuf = make([]byte, headerLen)
	}
	if err := p.stream.readExact(p.headerBuf[:headerLen]); err != nil {
		if err == errCleanEOF {
			err = errTruncated
		}
		return 0, 0, errors.Wrap(err, "failed to read record header")
	}

	fields, err := parseHeader(p.headerBuf[:headerLen])
	if err != nil {
		return 0, 0, errors.Wrap(err, "error parsing header")
	}

	opValue, err := checkField(fields, opFieldName, 1, 1, true)
	if err != nil {
		return 0, 0, err
	}
	op := opValue[0]

	if err := p.stream.readExact(scratch[:]); err != nil {
		if err == errCleanEOF {
			err = errTruncated
		}
		return 0, 0, errors.Wrap(err, "failed to read body length")
	}
	bodyLen := fieldUint32(scratch[:])

	switch op {
	case OpMsgData:
		topic, err := checkField(fields, topicFieldName, 1, unboundedFieldLen, true)
		if err != nil {
			return 0, 0, err
		}
		md5sum, err := checkField(fields, md5FieldName, 32, 32, true)
		if err != nil {
			return 0, 0, err
		}
		datatype, err := checkField(fields, typeFieldName, 1, unboundedFieldLen, true)
		if err != nil {
			return 0, 0, err
		}
		sec, err := checkField(fields, secFieldName, 4, 4, true)
		if err != nil {
			return 0, 0, err
		}
		nsec, err := checkField(fields, nsecFieldName, 4, 4, true)
		if err != nil {
			return 0, 0, err
		}
		dur.Sec = fieldUint32(sec)
		dur.Nsec = fieldUint32(nsec)

		// Latching and callerid fields are optional
		p.next.latching = "0"
		if latching, err := checkField(fields, latchingFieldName, 1, unboundedFieldLen, false); err != nil {
			return 0, 0, err
		} else if latching != nil {
			p.next.latching = string(latching)
		}
		p.next.callerID = ""
		if callerid, err := checkField(fields, calleridFieldName, 1, unboundedFieldLen, false); err != nil {
			return 0, 0, err
		} else if callerid != nil {
			p.next.callerID = string(callerid)
		}

		p.next.topic = string(topic)
		p.topics.register(p.next.topic, string(md5sum), remapDatatype(string(datatype)), "")
		return op, bodyLen, nil

	case OpMsgDef:
		topic, err := checkField(fields, topicFieldName, 1, unboundedFieldLen, true)
		if err != nil {
			return 0, 0, err
		}
		md5sum, err := checkField(fields, md5FieldName, 32, 32, true)
		if err != nil {
			return 0, 0, err
		}
		datatype, err := checkField(fields, typeFieldName, 1, unboundedFieldLen, true)
		if err != nil {
			return 0, 0, err
		}
		// The definition can be empty: bags recorded from the playback of a
		// pre-1.2 bag carry none.
		definition, err := checkField(fields, defFieldName, 0, unboundedFieldLen, true)
		if err != nil {
			return 0, 0, err
		}
		p.topics.register(string(topic), string(md5sum), remapDatatype(string(datatype)), string(definition))
		return op, bodyLen, nil

	case OpFileHeader, OpIndexData:
		return op, bodyLen, nil

	default:
		return 0, 0, errors.Errorf("field %s has invalid value %d", opFieldName, op)
	}
}

// readLegacyRecordPrefix reads the per-record identity and time prefix for
// V0.0, V1.0 and V1.1 bags, leaving the body length in the pending record.
func (p *Player) readLegacyRecordPrefix(dur *Duration) bool {
	if p.version <= 100 {
		if p.version == 0 {
			p.next.topic = p.soleTopic
		} else {
			topic, err := p.stream.readLine()
			if err == errCleanEOF {
				p.done = true
				return false
			}
			if err != nil {
				p.failRecord(errors.Wrap(err, "failed to read record topic name"))
				return false
			}
			p.next.topic = topic
		}
	} else {
		topic, err := p.stream.readLine()
		if err == errCleanEOF {
			p.done = true
			return false
		}
		if err != nil {
			p.failRecord(errors.Wrap(err, "failed to read record topic name"))
			return false
		}
		md5sum, err := p.stream.readLine()
		if err != nil {
			p.failRecord(errors.Wrap(err, "failed to read record topic hash"))
			return false
		}
		datatype, err := p.stream.readLine()
		if err != nil {
			p.failRecord(errors.Wrap(err, "failed to read record topic datatype"))
			return false
		}
		p.next.topic = topic
		p.topics.register(topic, md5sum, remapDatatype(datatype), "")
	}

	p.next.latching = "0"
	p.next.callerID = ""

	var scratch [12]byte
	if err := p.stream.readExact(scratch[:]); err != nil {
		if err == errCleanEOF && p.version == 0 {
			// A V0.0 bag has no per-record prefix before the times, so this
			// is the normal end of the file.
			p.done = true
			return false
		}
		p.failRecord(errors.Wrap(err, "failed to read record times"))
		return false
	}
	dur.Sec = fieldUint32(scratch[0:4])
	dur.Nsec = fieldUint32(scratch[4:8])
	p.next.bodyLen = fieldUint32(scratch[8:12])
	return true
}
