package domain

type (
	RoomID      string
	PeerID      string
	TransportID string
	ProducerID  string
	ConsumerID  string
)

func (id RoomID) String() string      { return string(id) }
func (id PeerID) String() string      { return string(id) }
func (id TransportID) String() string { return string(id) }
func (id ProducerID) String() string  { return string(id) }
func (id ConsumerID) String() string  { return string(id) }
