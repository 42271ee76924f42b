// Package pipewire reads the PipeWire object graph and drives default-sink activation.
package pipewire

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind discriminates the object records the effector cares about.
type Kind string

const (
	KindNode     Kind = "Node"
	KindDevice   Kind = "Device"
	KindMetadata Kind = "Metadata"
	KindOther    Kind = "Other"
)

const (
	audioSinkClass = "Audio/Sink"
	defaultMeta    = "default"
	keyDefaultSink = "default.audio.sink"
	keyConfigured  = "default.configured.audio.sink"
)

// Object is one record of a pw-dump snapshot.
type Object struct {
	ID            int
	Kind          Kind
	Props         map[string]any
	Profiles      []Profile
	ActiveProfile int
	Metadata      []MetadataEntry
}

// Profile is one entry from a device's EnumProfile params.
type Profile struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Available   string `json:"available"`
}

// MetadataEntry is a subject/key/value triple from a Metadata object.
type MetadataEntry struct {
	Subject int             `json:"subject"`
	Key     string          `json:"key"`
	Type    string          `json:"type"`
	Value   json.RawMessage `json:"value"`
}

// Objects is a flat snapshot of the audio graph.
type Objects []Object

// Sink is an output currently realized as a node.
type Sink struct {
	NodeID      int
	Name        string
	Description string
	DeviceID    int
}

// ProfileSink is an output reachable by switching a device profile.
type ProfileSink struct {
	Name         string
	Description  string
	DeviceID     int
	DeviceName   string
	ProfileName  string
	ProfileIndex int
}

type rawObject struct {
	ID       int             `json:"id"`
	Type     string          `json:"type"`
	Props    map[string]any  `json:"props"`
	Metadata []MetadataEntry `json:"metadata"`
	Info     *struct {
		Props  map[string]any               `json:"props"`
		Params map[string][]json.RawMessage `json:"params"`
	} `json:"info"`
}

// ParseObjects decodes pw-dump JSON output.
func ParseObjects(data []byte) (Objects, error) {
	var raw []rawObject
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode pw-dump output: %w", err)
	}

	objects := make(Objects, 0, len(raw))
	for _, r := range raw {
		obj := Object{
			ID:            r.ID,
			Kind:          kindFromType(r.Type),
			Props:         r.Props,
			Metadata:      r.Metadata,
			ActiveProfile: -1,
		}
		if r.Info != nil {
			if len(r.Info.Props) > 0 {
				obj.Props = r.Info.Props
			}
			obj.Profiles = decodeProfiles(r.Info.Params["EnumProfile"])
			if active := decodeProfiles(r.Info.Params["Profile"]); len(active) > 0 {
				obj.ActiveProfile = active[0].Index
			}
		}
		if obj.Props == nil {
			obj.Props = map[string]any{}
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

func kindFromType(t string) Kind {
	switch strings.TrimPrefix(t, "PipeWire:Interface:") {
	case "Node":
		return KindNode
	case "Device":
		return KindDevice
	case "Metadata":
		return KindMetadata
	default:
		return KindOther
	}
}

func decodeProfiles(params []json.RawMessage) []Profile {
	profiles := make([]Profile, 0, len(params))
	for _, param := range params {
		var p Profile
		if err := json.Unmarshal(param, &p); err != nil {
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles
}

// StringProp returns a property as a string; numeric values are formatted.
func (o Object) StringProp(key string) string {
	switch v := o.Props[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// IntProp returns an integer property, accepting numeric strings.
func (o Object) IntProp(key string) (int, bool) {
	switch v := o.Props[key].(type) {
	case float64:
		return int(v), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

// ActiveSinks returns Audio/Sink nodes that belong to a known device.
func ActiveSinks(objects Objects) []Sink {
	var sinks []Sink
	for _, obj := range objects {
		if obj.Kind != KindNode || obj.StringProp("media.class") != audioSinkClass {
			continue
		}
		deviceID, ok := obj.IntProp("device.id")
		if !ok {
			continue
		}
		name := obj.StringProp("node.name")
		if name == "" {
			continue
		}
		sinks = append(sinks, Sink{
			NodeID:      obj.ID,
			Name:        name,
			Description: obj.StringProp("node.description"),
			DeviceID:    deviceID,
		})
	}
	return sinks
}

// ProfileSinks synthesizes the outputs each device would expose under its inactive profiles.
func ProfileSinks(objects Objects) []ProfileSink {
	var sinks []ProfileSink
	for _, obj := range objects {
		if obj.Kind != KindDevice || obj.StringProp("media.class") != "Audio/Device" {
			continue
		}
		deviceName := obj.StringProp("device.name")
		if deviceName == "" {
			continue
		}
		seen := make(map[string]bool)
		for _, profile := range obj.Profiles {
			if profile.Index == obj.ActiveProfile || profile.Name == "off" || profile.Available == "no" {
				continue
			}
			predicted, ok := PredictNodeName(deviceName, profile.Name)
			if !ok || seen[predicted] {
				continue
			}
			seen[predicted] = true
			sinks = append(sinks, ProfileSink{
				Name:         predicted,
				Description:  profileDescription(obj, profile),
				DeviceID:     obj.ID,
				DeviceName:   deviceName,
				ProfileName:  profile.Name,
				ProfileIndex: profile.Index,
			})
		}
	}
	return sinks
}

func profileDescription(device Object, profile Profile) string {
	desc := device.StringProp("device.description")
	if profile.Description == "" {
		return desc
	}
	if desc == "" {
		return profile.Description
	}
	return desc + " (" + profile.Description + ")"
}

// PredictNodeName returns the sink node name a device creates after switching to profile.
func PredictNodeName(deviceName, profile string) (string, bool) {
	switch {
	case strings.HasPrefix(deviceName, "alsa_card."):
		output := alsaOutputPart(profile)
		if output == "" {
			return "", false
		}
		return "alsa_output." + strings.TrimPrefix(deviceName, "alsa_card.") + "." + output, true
	case strings.HasPrefix(deviceName, "bluez_card."):
		if !bluezHasOutput(profile) {
			return "", false
		}
		return "bluez_output." + strings.TrimPrefix(deviceName, "bluez_card.") + ".1", true
	default:
		return "", false
	}
}

func alsaOutputPart(profile string) string {
	for _, part := range strings.Split(profile, "+") {
		if rest, ok := strings.CutPrefix(part, "output:"); ok && rest != "" {
			return rest
		}
	}
	return ""
}

func bluezHasOutput(profile string) bool {
	return strings.HasPrefix(profile, "a2dp-sink") ||
		strings.HasPrefix(profile, "headset-head-unit") ||
		profile == "handsfree_head_unit"
}

// DefaultSinkName reads the session default sink from the "default" metadata object.
func DefaultSinkName(objects Objects) (string, bool) {
	var configured string
	for _, obj := range objects {
		if obj.Kind != KindMetadata || obj.StringProp("metadata.name") != defaultMeta {
			continue
		}
		for _, entry := range obj.Metadata {
			name := metadataName(entry.Value)
			if name == "" {
				continue
			}
			switch entry.Key {
			case keyDefaultSink:
				return name, true
			case keyConfigured:
				configured = name
			}
		}
	}
	return configured, configured != ""
}

func metadataName(value json.RawMessage) string {
	if len(value) == 0 {
		return ""
	}
	var named struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(value, &named); err == nil && named.Name != "" {
		return named.Name
	}
	var encoded string
	if err := json.Unmarshal(value, &encoded); err == nil && encoded != "" {
		if err := json.Unmarshal([]byte(encoded), &named); err == nil {
			return named.Name
		}
	}
	return ""
}

// FindActive returns the active sink named name.
func FindActive(sinks []Sink, name string) (Sink, bool) {
	idx := slices.IndexFunc(sinks, func(s Sink) bool { return s.Name == name })
	if idx < 0 {
		return Sink{}, false
	}
	return sinks[idx], true
}

// FindProfile returns the profile sink predicted as name.
func FindProfile(sinks []ProfileSink, name string) (ProfileSink, bool) {
	idx := slices.IndexFunc(sinks, func(s ProfileSink) bool { return s.Name == name })
	if idx < 0 {
		return ProfileSink{}, false
	}
	return sinks[idx], true
}
