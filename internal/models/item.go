package models

import "fmt"

// Store field names used by the pipeline.
const (
	FieldDescription = "description"
	FieldName        = "name"
	FieldColor       = "color"
	FieldLocation    = "location"
	FieldTime        = "time"
	FieldUserID      = "userId"
	FieldStatus      = "status"
	FieldImageURL    = "imageUrl"
	FieldLat         = "lat"
	FieldLng         = "lng"
	FieldOCROutput   = "ocr_output"
)

// Item is either a *LostItem or a *FoundItem.
type Item interface {
	ItemID() string
	Collection() Collection
	isItem()
}

// LostItem is a lost report: a free-text description plus optional metadata.
type LostItem struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Name        string `json:"name,omitempty"`
	Color       string `json:"color,omitempty"`
	Location    string `json:"location,omitempty"`
	Time        string `json:"time,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (l *LostItem) ItemID() string         { return l.ID }
func (l *LostItem) Collection() Collection { return CollectionLost }
func (l *LostItem) isItem()                {}

// FoundItem is a found report: a photo URL plus enrichment written back by the pipeline.
type FoundItem struct {
	ID        string       `json:"id"`
	ImageURL  string       `json:"imageUrl"`
	Name      string       `json:"name,omitempty"`
	UserID    string       `json:"userId,omitempty"`
	Lat       float64      `json:"lat,omitempty"`
	Lng       float64      `json:"lng,omitempty"`
	Status    string       `json:"status,omitempty"`
	Gate      *GateVerdict `json:"gate,omitempty"`
	OCROutput string       `json:"ocr_output,omitempty"`
}

func (f *FoundItem) ItemID() string         { return f.ID }
func (f *FoundItem) Collection() Collection { return CollectionFound }
func (f *FoundItem) isItem()                {}

// LostFromRecord decodes a lostItems record.
func LostFromRecord(rec *Record) *LostItem {
	return &LostItem{
		ID:          rec.ID,
		Description: rec.String(FieldDescription),
		Name:        rec.String(FieldName),
		Color:       rec.String(FieldColor),
		Location:    rec.String(FieldLocation),
		Time:        rec.String(FieldTime),
		UserID:      rec.String(FieldUserID),
		Status:      rec.String(FieldStatus),
	}
}

// FoundFromRecord decodes a foundItems record, including any stored gate verdict.
func FoundFromRecord(rec *Record) *FoundItem {
	f := &FoundItem{
		ID:        rec.ID,
		ImageURL:  rec.String(FieldImageURL),
		Name:      rec.String(FieldName),
		UserID:    rec.String(FieldUserID),
		Status:    rec.String(FieldStatus),
		OCROutput: rec.String(FieldOCROutput),
	}
	f.Lat, _ = rec.Float(FieldLat)
	f.Lng, _ = rec.Float(FieldLng)
	if shouldOCR, ok := rec.Bool(FieldShouldOCR); ok {
		f.Gate = &GateVerdict{
			ShouldOCR:         shouldOCR,
			Readability:       Readability(rec.String(FieldReadability)),
			DocType:           DocType(rec.String(FieldDocType)),
			LikelyIdentifiers: rec.Strings(FieldLikelyIdentifiers),
			Reason:            rec.String(FieldReason),
		}
	}
	return f
}

// ItemFromRecord resolves a record into its Item variant by collection.
func ItemFromRecord(rec *Record) (Item, error) {
	switch rec.Collection {
	case CollectionLost:
		return LostFromRecord(rec), nil
	case CollectionFound:
		return FoundFromRecord(rec), nil
	}
	return nil, fmt.Errorf("record %s has unknown collection %q", rec.ID, rec.Collection)
}
