package bagplay

import (
	"time"
)

// Record opcodes for the V1.2 bag format.  These are the on-disk values the
// recorder wrote; they must never change.
const (
	OpMsgDef     byte = 0x01
	OpMsgData    byte = 0x02
	OpFileHeader byte = 0x03
	OpIndexData  byte = 0x04
)

// Header field names for the V1.2 bag format.
const (
	opFieldName       = "op"
	topicFieldName    = "topic"
	md5FieldName      = "md5"
	typeFieldName     = "type"
	secFieldName      = "sec"
	nsecFieldName     = "nsec"
	defFieldName      = "def"
	latchingFieldName = "latching"
	calleridFieldName = "callerid"
)

// The newest bag version the reader understands.  Files with a larger
// version fail Open unless allowFuture is set.
const (
	maxVersionMajor = 1
	maxVersionMinor = 2
	maxVersion      = maxVersionMajor*100 + maxVersionMinor
)

// BagExtension is the only file extension accepted by Open.
const BagExtension = ".bag"

// legacyDatatypeRemap maps retired core datatype names to their current
// names.  Applied wherever a datatype is read from the file.
var legacyDatatypeRemap = map[string]string{
	"rostools/Time": "roslib/Time",
	"rostools/Log":  "roslib/Log",
}

const (
	// When reconnecting to the broker after connection failure
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception
	reInitDelay = 2 * time.Second

	// When resending messages the broker didn't confirm
	resendDelay = 5 * time.Second
)

var (
	BagplayVersion string
	BagplayCommit  string
	BagplayDate    string
	BagplayBuiltBy string
)
