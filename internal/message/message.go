package message

// This file provides the common data objects used by the rest of the
// program.

// ID defines the properties that identify a message within one
// mailbox.
type ID struct {
	// The permanent and unique ID of a message in a storage
	// system.  GMail API: Users.messages resource "id" field.
	PermID string

	// The permanent and unique ID of a thread associated with the
	// message.  May be empty in storage systems that do not
	// support this concept.
	ThreadID string
}

// Header defines the metadata associated with a message.
type Header struct {
	// The message's mailbox-local identifiers.
	ID

	// The RFC 2822 Message-ID header value.  Unlike PermID it is
	// stable across mailboxes, which makes it usable as a
	// cross-mailbox dedup key.  Empty when the message carries no
	// such header.
	RFC822ID string

	// The Subject header value.  Empty when absent.
	Subject string

	// An opaque identifier naming the snapshot in time at which
	// this record was taken.
	HistoryID uint64
}

// Body defines a complete message, including the message body.
type Body struct {
	Header

	// The entire email message as RFC 2822 formatted bytes.
	Raw []byte
}

// InsertResult reports the identifiers a mailbox assigned to a newly
// inserted message.
type InsertResult struct {
	// The mailbox-local id of the inserted copy.
	PermID string

	// The thread the mailbox filed the copy under.
	ThreadID string
}

// HistoryPage is the accumulated result of walking a mailbox's
// change history from a start cursor.
type HistoryPage struct {
	// Mailbox-local ids of every message seen under a
	// "messages added" history record, in the order observed.
	AddedIDs []string

	// The maximum history record id observed across all pages.
	// Zero when no history records were returned.
	MaxHistoryID uint64
}
