package hl7

import (
	"strings"
	"time"
)

const (
	AckAccept = "AA"
	AckError  = "AE"
	AckReject = "AR"

	timestampLayout = "20060102150405"
)

// IsAccepted reports whether ack carries the affirmative code. It is a
// substring test only and does not validate the ACK structure.
func IsAccepted(ack string) bool {
	return strings.Contains(ack, AckAccept)
}

// BuildACK answers incoming with code, swapping sender and receiver and
// echoing the original control id in MSA-2.
func BuildACK(incoming *Message, code, controlID, text string, now time.Time) string {
	version := incoming.Version
	if version == "" {
		version = "2.5"
	}
	processingID := incoming.ProcessingID
	if processingID == "" {
		processingID = "P"
	}

	messageType := "ACK"
	if trigger := incoming.TriggerEvent(); trigger != "" {
		messageType = "ACK^" + trigger + "^ACK"
	}

	msh := strings.Join([]string{
		"MSH",
		EncodingChars,
		incoming.ReceivingApp,
		incoming.ReceivingFac,
		incoming.SendingApp,
		incoming.SendingFac,
		now.UTC().Format(timestampLayout),
		"",
		messageType,
		controlID,
		processingID,
		version,
	}, FieldSeparator)

	msa := strings.Join([]string{"MSA", code, incoming.ControlID, escape(text)}, FieldSeparator)
	return msh + SegmentTerminator + msa
}

func escape(text string) string {
	replacer := strings.NewReplacer(
		"\\", "\\E\\",
		"|", "\\F\\",
		"^", "\\S\\",
		"&", "\\T\\",
		"~", "\\R\\",
	)
	return replacer.Replace(text)
}
