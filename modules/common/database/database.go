package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"seedream-studio-server/modules/common/config"
	"seedream-studio-server/modules/common/model"
)

const imagesTable = "images"

// Gallery list filters
const (
	FilterAll     = "all"
	FilterLiked   = "liked"
	FilterDeleted = "deleted"
)

var newestFirst = &postgrest.OrderOpts{Ascending: false}

type Client struct {
	supabase *supabase.Client
}

// NewClient - gallery table client on Supabase PostgREST
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}

	return &Client{
		supabase: supabaseClient,
	}, nil
}

// ValidFilter - true for the filters ListUserImages understands
func ValidFilter(filter string) bool {
	switch filter {
	case FilterAll, FilterLiked, FilterDeleted:
		return true
	}
	return false
}

// CreateImageRecord - insert one gallery row and return it as stored
func (c *Client) CreateImageRecord(ctx context.Context, img *model.GalleryImage) (*model.GalleryImage, error) {
	log.Printf("💾 Creating gallery record for user %s: %s", img.UserID, img.ImageURL)

	data, _, err := c.supabase.From(imagesTable).
		Insert(img, false, "", "representation", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to insert gallery record: %w", err)
	}

	var rows []model.GalleryImage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse gallery insert response: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("no gallery record returned")
	}

	log.Printf("✅ Gallery record created: %s", rows[0].ID)
	return &rows[0], nil
}

// ListUserImages - a user's images, newest first
func (c *Client) ListUserImages(ctx context.Context, userID, filter string) ([]model.GalleryImage, error) {
	query := c.supabase.From(imagesTable).
		Select("*", "", false).
		Eq("user_id", userID)

	switch filter {
	case FilterLiked:
		query = query.Eq("liked", "true").Eq("deleted", "false")
	case FilterDeleted:
		query = query.Eq("deleted", "true")
	default:
		query = query.Eq("deleted", "false")
	}

	data, _, err := query.Order("created_at", newestFirst).Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list images for %s: %w", userID, err)
	}
	return decodeImages(data)
}

// ListPublicImages - the shared gallery: every non-deleted image, newest first
func (c *Client) ListPublicImages(ctx context.Context, limit int) ([]model.GalleryImage, error) {
	data, _, err := c.supabase.From(imagesTable).
		Select("*", "", false).
		Eq("deleted", "false").
		Order("created_at", newestFirst).
		Limit(limit, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to list public images: %w", err)
	}
	return decodeImages(data)
}

// SetLiked - toggle the like flag
func (c *Client) SetLiked(ctx context.Context, imageID string, liked bool) error {
	return c.update(imageID, map[string]interface{}{"liked": liked})
}

// SetDeleted - move an image to or out of the trash
func (c *Client) SetDeleted(ctx context.Context, imageID string, deleted bool) error {
	return c.update(imageID, map[string]interface{}{"deleted": deleted})
}

// DeleteImage - remove the row permanently
func (c *Client) DeleteImage(ctx context.Context, imageID string) error {
	log.Printf("🗑️  Deleting gallery record %s", imageID)

	_, _, err := c.supabase.From(imagesTable).
		Delete("", "").
		Eq("id", imageID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete image %s: %w", imageID, err)
	}
	return nil
}

func (c *Client) update(imageID string, fields map[string]interface{}) error {
	log.Printf("📝 Updating gallery record %s: %v", imageID, fields)

	_, _, err := c.supabase.From(imagesTable).
		Update(fields, "", "").
		Eq("id", imageID).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to update image %s: %w", imageID, err)
	}
	return nil
}

func decodeImages(data []byte) ([]model.GalleryImage, error) {
	images := []model.GalleryImage{}
	if err := json.Unmarshal(data, &images); err != nil {
		return nil, fmt.Errorf("failed to parse images response: %w", err)
	}
	log.Printf("🔍 Fetched %d gallery images", len(images))
	return images, nil
}
