package model

import "time"

// Item represents a lendable item type (quantity-based, not individual tracking).
// Names and descriptions are bilingual.
type Item struct {
	ID        int64     `json:"id"`
	StorageID int64     `json:"storage_id"`
	NameRu    string    `json:"name_ru"`
	NameEn    string    `json:"name_en"`
	DescRu    string    `json:"desc_ru,omitempty"`
	DescEn    string    `json:"desc_en,omitempty"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// RemainingCount is derived from active requests, populated on demand.
	RemainingCount *int `json:"remaining_count,omitempty"`

	// Joined fields (not always populated).
	StorageName string `json:"storage_name,omitempty"`
	OwnerID     int64  `json:"owner_id,omitempty"`
}
