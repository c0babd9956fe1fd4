package chat

import (
	"sync"
	"time"

	"btplive/internal/models"
)

type Seq int64

type Record struct {
	Seq       Seq
	ID        string
	Timestamp time.Time
	UserID    string
	UserName  string
	Content   string
	HTML      string
}

func (r Record) Message() models.Message {
	return models.Message{
		ID:         r.ID,
		SenderID:   r.UserID,
		SenderName: r.UserName,
		Content:    r.Content,
		HTML:       r.HTML,
		Timestamp:  r.Timestamp,
	}
}

// Room keeps the most recent records of the shared conversation in a ring
// buffer and fans every new record out to its online members.
type Room struct {
	ID         string
	Records    []Record
	Members    map[string]bool
	FirstSeq   Seq
	LastSeq    Seq
	LastIndex  int
	MaxRecords int

	RecordCallback func(receiverID string, record Record)

	mux sync.RWMutex
}

type Config struct {
	ID             string
	MaxRecords     int
	RecordCallback func(receiverID string, record Record)
}

func New(config Config) *Room {
	if config.MaxRecords <= 0 {
		config.MaxRecords = 100
	}
	return &Room{
		ID:             config.ID,
		MaxRecords:     config.MaxRecords,
		LastIndex:      -1,
		FirstSeq:       -1,
		LastSeq:        -1,
		Members:        make(map[string]bool),
		RecordCallback: config.RecordCallback,
	}
}

// AddRecord appends a record and delivers it to every online member,
// the author included. It returns the record with its sequence number.
func (c *Room) AddRecord(record Record) Record {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.LastSeq++
	record.Seq = c.LastSeq
	c.pushLocked(record)

	for receiverID, online := range c.Members {
		if online && c.RecordCallback != nil {
			c.RecordCallback(receiverID, record)
		}
	}
	return record
}

func (c *Room) pushLocked(record Record) {
	switch {
	case len(c.Records) < c.MaxRecords:
		if c.FirstSeq == -1 {
			c.FirstSeq = record.Seq
		}
		c.Records = append(c.Records, record)
		c.LastIndex++
	default:
		c.FirstSeq++
		i := (c.LastIndex + 1) % c.MaxRecords
		c.Records[i] = record
		c.LastIndex = i
	}
}

// Restore loads persisted records, oldest first, without notifying anyone.
// Sequence numbering continues after the last restored record.
func (c *Room) Restore(records []Record) {
	c.mux.Lock()
	defer c.mux.Unlock()

	for _, r := range records {
		if r.Seq <= c.LastSeq {
			continue
		}
		if c.FirstSeq != -1 && r.Seq != c.LastSeq+1 {
			// a gap: start over from this record
			c.Records = nil
			c.LastIndex = -1
			c.FirstSeq = -1
		}
		c.LastSeq = r.Seq
		c.pushLocked(r)
	}
}

func (c *Room) GetRecords(from, to Seq) []Record {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if c.FirstSeq == -1 {
		return []Record{}
	}

	if from < c.FirstSeq {
		from = c.FirstSeq
	}
	if to > c.LastSeq+1 {
		to = c.LastSeq + 1
	}
	if from >= to {
		return []Record{}
	}

	return c.copyLocked(from, int(to-from))
}

func (c *Room) GetLastRecords(count int) []Record {
	c.mux.RLock()
	defer c.mux.RUnlock()

	if c.FirstSeq == -1 || count <= 0 {
		return []Record{}
	}

	total := int(c.LastSeq - c.FirstSeq + 1)
	if count > total {
		count = total
	}

	return c.copyLocked(c.LastSeq-Seq(count)+1, count)
}

func (c *Room) copyLocked(from Seq, count int) []Record {
	result := make([]Record, count)

	// oldest record
	head := 0
	if len(c.Records) == c.MaxRecords {
		head = (c.LastIndex + 1) % c.MaxRecords
	}

	offset := int(from - c.FirstSeq)
	startIdx := (head + offset) % len(c.Records)

	if startIdx+count <= len(c.Records) {
		copy(result, c.Records[startIdx:startIdx+count])
	} else {
		n1 := len(c.Records) - startIdx
		copy(result, c.Records[startIdx:])
		copy(result[n1:], c.Records[:count-n1])
	}
	return result
}

func (c *Room) setMember(userID string, online bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.Members[userID] = online
}

func (c *Room) Join(userID string) {
	c.setMember(userID, true)
}

func (c *Room) Leave(userID string) {
	c.setMember(userID, false)
}
