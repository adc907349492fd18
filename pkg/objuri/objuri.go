// Package objuri encodes and decodes the identity of a managed resource as a
// single kblocks:// URI.
//
// The format is fixed: kblocks://<group>/<version>/<plural>/<system>/<namespace>/<name>.
// All six segments are mandatory. Cluster-scoped objects use the literal
// namespace "default".
package objuri

import (
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Scheme is the URI scheme for resource identities.
const Scheme = "kblocks"

// DefaultNamespace is used in URIs of objects that carry no namespace.
const DefaultNamespace = "default"

// Identity uniquely addresses one managed resource across a deployment.
type Identity struct {
	Group     string
	Version   string
	Plural    string
	System    string
	Namespace string
	Name      string
}

// ParseError reports a malformed object URI.
type ParseError struct {
	URI    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid object uri %q: %s", e.URI, e.Reason)
}

var segmentNames = []string{"group", "version", "plural", "system", "namespace", "name"}

// Parse decodes a kblocks:// URI. A URI with a different scheme, a missing or
// empty segment, or trailing segments is rejected.
func Parse(uri string) (Identity, error) {
	prefix := Scheme + "://"
	if !strings.HasPrefix(uri, prefix) {
		return Identity{}, &ParseError{URI: uri, Reason: "expected scheme " + prefix}
	}

	parts := strings.Split(strings.TrimPrefix(uri, prefix), "/")
	if len(parts) != len(segmentNames) {
		return Identity{}, &ParseError{
			URI:    uri,
			Reason: fmt.Sprintf("expected %d segments, got %d", len(segmentNames), len(parts)),
		}
	}
	for i, p := range parts {
		if p == "" {
			return Identity{}, &ParseError{URI: uri, Reason: "missing " + segmentNames[i]}
		}
	}

	return Identity{
		Group:     parts[0],
		Version:   parts[1],
		Plural:    parts[2],
		System:    parts[3],
		Namespace: parts[4],
		Name:      parts[5],
	}, nil
}

// String formats the identity as a URI. Empty segments are kept empty, so the
// result of formatting an incomplete identity will not parse.
func (id Identity) String() string {
	return fmt.Sprintf("%s://%s/%s/%s/%s/%s/%s",
		Scheme, id.Group, id.Version, id.Plural, id.System, id.Namespace, id.Name)
}

// Type returns the "group/version/plural" string that event envelopes carry as objType.
func (id Identity) Type() string {
	return id.Group + "/" + id.Version + "/" + id.Plural
}

// GroupVersionResource returns the resource coordinates of the identity.
func (id Identity) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: id.Group, Version: id.Version, Resource: id.Plural}
}

// Key is the partitioning key "namespace/name".
func (id Identity) Key() string {
	return id.Namespace + "/" + id.Name
}

// Channel identifies the control channel a resource belongs to.
type Channel struct {
	Group   string
	Version string
	Plural  string
	System  string
}

// Channel returns the (group, version, plural, system) tuple of the identity.
func (id Identity) Channel() Channel {
	return Channel{Group: id.Group, Version: id.Version, Plural: id.Plural, System: id.System}
}

// Identity builds the identity of a named object on the channel.
func (c Channel) Identity(namespace, name string) Identity {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Identity{
		Group:     c.Group,
		Version:   c.Version,
		Plural:    c.Plural,
		System:    c.System,
		Namespace: namespace,
		Name:      name,
	}
}

// GroupVersionResource returns the resource coordinates of the channel.
func (c Channel) GroupVersionResource() schema.GroupVersionResource {
	return schema.GroupVersionResource{Group: c.Group, Version: c.Version, Resource: c.Plural}
}

// FromObject derives the identity of obj on the given channel.
func FromObject(c Channel, obj *unstructured.Unstructured) Identity {
	return c.Identity(obj.GetNamespace(), obj.GetName())
}
