package link

import (
	"context"
)

type metadataKey struct{}

// Metadata is a set of string values attached to a context.Context and sent
// to the host as part of each operation's context.
type Metadata map[string]string

func NewContextWithMetadata(ctx context.Context, md Metadata) context.Context {
	return context.WithValue(ctx, metadataKey{}, md)
}

func AppendMetadataToContext(ctx context.Context, md Metadata) context.Context {
	existing := GetMetadataFromContext(ctx)
	if existing == nil {
		return context.WithValue(ctx, metadataKey{}, md)
	}
	merged := make(Metadata, len(existing)+len(md))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range md {
		merged[k] = v
	}
	return context.WithValue(ctx, metadataKey{}, merged)
}

func GetMetadataFromContext(ctx context.Context) Metadata {
	v := ctx.Value(metadataKey{})
	if v != nil {
		md, ok := v.(Metadata)
		if ok {
			return md
		}
	}
	return nil
}

// MetadataContextProvider copies the metadata carried by the operation's
// context.Context into the operation context.
func MetadataContextProvider(ctx context.Context, op Operation) (map[string]any, error) {
	md := GetMetadataFromContext(ctx)
	if len(md) == 0 {
		return nil, nil
	}
	values := make(map[string]any, len(md))
	for k, v := range md {
		values[k] = v
	}
	return values, nil
}
