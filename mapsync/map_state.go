package mapsync

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// map level configuration, shared by all nodes
type MapOptions struct {
	FontMaxSize   int `json:"fontMaxSize" yaml:"font_max_size"`
	FontMinSize   int `json:"fontMinSize" yaml:"font_min_size"`
	FontIncrement int `json:"fontIncrement" yaml:"font_increment"`
}

func DefaultMapOptions() *MapOptions {
	return &MapOptions{
		FontMaxSize:   28,
		FontMinSize:   15,
		FontIncrement: 2,
	}
}

// the authoritative full state of a map, as sent by the server on join and with error acks
type ServerMap struct {
	Uuid            string        `json:"uuid" validate:"required"`
	LastModified    string        `json:"lastModified" validate:"required,isoish"`
	LastAccessed    string        `json:"lastAccessed,omitempty" validate:"omitempty,isoish"`
	CreatedAt       string        `json:"createdAt,omitempty" validate:"omitempty,isoish"`
	DeletedAt       string        `json:"deletedAt,omitempty" validate:"omitempty,isoish"`
	DeleteAfterDays int           `json:"deleteAfterDays,omitempty" validate:"gte=0"`
	Data            []*NodeRecord `json:"data" validate:"required,min=1,dive,required"`
	Options         *MapOptions   `json:"options" validate:"required"`
}

var mapStateValidate *validator.Validate

func init() {
	mapStateValidate = validator.New()
	_ = mapStateValidate.RegisterValidation("isoish", validateIsoish)
}

// layouts accepted as "ISO-ish" timestamps
var isoishLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func validateIsoish(fl validator.FieldLevel) bool {
	return IsIsoishTimestamp(fl.Field().String())
}

func IsIsoishTimestamp(value string) bool {
	for _, layout := range isoishLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

// structural check before the state is trusted for an authoritative reload
func (self *ServerMap) Validate() error {
	return mapStateValidate.Struct(self)
}

func (self *ServerMap) Snapshot() Snapshot {
	return Snapshot(self.Data).Clone()
}
