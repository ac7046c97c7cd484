package mutation

import (
	"fmt"
	"net/url"
	"strings"
)

// BindEndpoint подставляет идентификатор сущности в шаблон пути.
// Поддерживаются сегменты {id}, {entityId} и :id.
func BindEndpoint(template, entityID string) (string, error) {
	if !strings.HasPrefix(template, "/") {
		return "", fmt.Errorf("%w: endpoint must be an absolute path: %q", ErrInvalidMutation, template)
	}

	path, query, _ := strings.Cut(template, "?")
	escaped := url.PathEscape(entityID)

	segments := strings.Split(path, "/")
	for i, seg := range segments {
		switch seg {
		case ":id":
			segments[i] = escaped
			continue
		}
		seg = strings.ReplaceAll(seg, "{id}", escaped)
		seg = strings.ReplaceAll(seg, "{entityId}", escaped)
		if strings.ContainsAny(seg, "{}") {
			return "", fmt.Errorf("%w: unbound placeholder in endpoint %q", ErrInvalidMutation, template)
		}
		segments[i] = seg
	}

	bound := strings.Join(segments, "/")
	if query != "" {
		bound += "?" + query
	}
	return bound, nil
}
