package stream

import "encoding/json"

// ObjectType classifies a detection.
type ObjectType int

const (
	ObjectOther   ObjectType = 0
	ObjectPerson  ObjectType = 1
	ObjectVehicle ObjectType = 2
)

func (t ObjectType) String() string {
	switch t {
	case ObjectPerson:
		return "person"
	case ObjectVehicle:
		return "vehicle"
	default:
		return "other"
	}
}

// ObjectDetection is one bounding box in a frame. Wire keys are abbreviated.
type ObjectDetection struct {
	X       float64    `json:"x"`
	Y       float64    `json:"y"`
	W       float64    `json:"w"`
	H       float64    `json:"h"`
	Type    ObjectType `json:"t"`
	ClassID int        `json:"c"`
	TrackID int64      `json:"i"`
	IsEvent bool       `json:"e"`
}

// FrameMetadata is the analytics record for one frame. TimeStamp is
// wall-clock ms; TimeStampEncoded is the stream-relative key in ms.
type FrameMetadata struct {
	SiteID           int64             `json:"siteId"`
	ChannelID        int64             `json:"channelId"`
	FrameID          int64             `json:"frameId"`
	TimeStamp        int64             `json:"timeStamp"`
	TimeStampEncoded int64             `json:"timeStampEncoded"`
	TimeStampEnd     int64             `json:"timeStampEnd,omitempty"`
	ObjectList       []ObjectDetection `json:"objectList"`
	PeopleCount      int               `json:"peopleCount"`
	VehicleCount     int               `json:"vehicleCount"`
	RefWidth         int               `json:"refWidth"`
	RefHeight        int               `json:"refHeight"`
}

// DecodeBatch parses a metadata batch text message.
func DecodeBatch(data []byte) ([]FrameMetadata, error) {
	var batch []FrameMetadata
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}
