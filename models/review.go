package models

import (
	"bytes"
	"encoding/json"
)

// Review is one parsed guest review. Optional fields are nil when the
// parser or page could not recover them and serialize as JSON null.
type Review struct {
	Username     *string  `json:"username"`
	TimeInAirbnb *string  `json:"time_in_airbnb"`
	Rating       *string  `json:"rating"`
	PostTime     *string  `json:"post_time"`
	Comment      string   `json:"comment"`
	Response     *string  `json:"response"`
	DataReviewID *string  `json:"data_review_id"`
	Images       []string `json:"images"`
}

// ReviewFields are the text-derived parts of a review.
type ReviewFields struct {
	Username     *string
	TimeInAirbnb *string
	Rating       *string
	PostTime     *string
	Comment      string
	Response     *string
}

// NewReview assembles a review from parsed fields, the element's stable id
// and its resolved images. The images slice is copied so the review never
// shares backing storage with the caller.
func NewReview(f ReviewFields, dataReviewID *string, images []string) Review {
	imgs := make([]string, len(images))
	copy(imgs, images)
	return Review{
		Username:     f.Username,
		TimeInAirbnb: f.TimeInAirbnb,
		Rating:       f.Rating,
		PostTime:     f.PostTime,
		Comment:      f.Comment,
		Response:     f.Response,
		DataReviewID: dataReviewID,
		Images:       imgs,
	}
}

func (r *Review) UnmarshalJSON(data []byte) error {
	type plain Review
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	*r = Review(p)
	return nil
}

func (r Review) MarshalJSON() ([]byte, error) {
	type plain Review
	p := plain(r)
	if p.Images == nil {
		p.Images = []string{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
