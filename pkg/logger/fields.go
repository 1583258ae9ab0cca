package logger

import "context"

// Field names shared by every service in the ledger.
const (
	FieldRequestID      = "request_id"
	FieldInventoryID    = "inventory_id"
	FieldFolderID       = "folder_id"
	FieldCheckoutItemID = "checkout_item_id"
)

func (l *Logger) WithRequestID(ctx context.Context, requestID string) context.Context {
	return l.WithField(ctx, FieldRequestID, requestID)
}

func (l *Logger) WithInventoryID(ctx context.Context, inventoryID string) context.Context {
	return l.WithField(ctx, FieldInventoryID, inventoryID)
}

func (l *Logger) WithFolderID(ctx context.Context, folderID string) context.Context {
	return l.WithField(ctx, FieldFolderID, folderID)
}

func (l *Logger) WithCheckoutItemID(ctx context.Context, itemID string) context.Context {
	return l.WithField(ctx, FieldCheckoutItemID, itemID)
}
