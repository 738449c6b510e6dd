// Package datamodel specifies the contract for the Matter cluster/device-type
// dictionary. Loading the real XML data model (clusters, device types,
// enums, bitmaps, structs) is out of scope for this module; only the
// contract other components depend on, plus a small static dictionary
// covering the clusters matterbridge's own test scenarios exercise, live
// here.
package datamodel

import "fmt"

// Dictionary resolves Matter cluster/attribute/command identifiers to
// human-readable names and type information. The real implementation is an
// external collaborator backed by the Matter cluster XML files; matterbridge
// depends only on this interface.
type Dictionary interface {
	ClusterNameByID(id uint32) (name string, ok bool)
	AttributeNameByCode(clusterID uint32, code uint32) (name string, ok bool)
	CommandNameByCode(clusterID uint32, code uint32) (name string, ok bool)
	AttributeType(clusterID uint32, code uint32) (goType string, ok bool)
	// IsEnum reports whether an attribute is an enumerated type and, if so,
	// its Homie "$format" string (e.g. "0:Off,1:On").
	IsEnum(clusterID uint32, code uint32) (format string, ok bool)
	IsWritable(clusterID uint32, code uint32) bool

	// ClustersForDeviceType lists the cluster names a device type exposes,
	// for the MQTT Controller's Homie "$nodes" device description.
	ClustersForDeviceType(deviceType string) []string
	// AttributesForCluster lists a cluster's attributes by name, for the
	// MQTT Controller's Homie node/property description.
	AttributesForCluster(clusterName string) []AttributeInfo
	// ListClusters and ListDeviceTypes back the HTTP API's
	// GET /datamodel/cluster and GET /datamodel/devicetype routes.
	ListClusters() []string
	ListDeviceTypes() []string
}

// AttributeInfo describes one attribute for Homie device publication.
type AttributeInfo struct {
	Name     string
	Type     string
	Writable bool
}

type attrMeta struct {
	name       string
	typ        string
	writable   bool
	enumFormat string
}

// Static is a minimal in-memory Dictionary covering On/Off, LevelControl,
// Descriptor, and BasicInformation - the clusters exercised by the
// end-to-end scenarios this module tests against. It exists so the module
// is runnable and testable without the real XML loader.
type Static struct {
	clusters    map[uint32]string
	attributes  map[uint32]map[uint32]attrMeta
	commands    map[uint32]map[uint32]string
	deviceTypes map[string][]string
}

// NewStatic returns the built-in static dictionary.
func NewStatic() *Static {
	return &Static{
		clusters: map[uint32]string{
			0x0006: "OnOff",
			0x0008: "LevelControl",
			0x001D: "Descriptor",
			0x0028: "BasicInformation",
		},
		attributes: map[uint32]map[uint32]attrMeta{
			0x0006: {
				0x0000: {name: "OnOff", typ: "bool"},
			},
			0x0008: {
				0x0000: {name: "CurrentLevel", typ: "uint8", writable: true},
			},
			0x001D: {
				0x0000: {name: "DeviceTypeList", typ: "list"},
			},
			0x0028: {
				0x0005: {name: "NodeLabel", typ: "string", writable: true},
			},
		},
		commands: map[uint32]map[uint32]string{
			0x0006: {
				0x00: "Off",
				0x01: "On",
				0x02: "Toggle",
			},
			0x0008: {
				0x00: "MoveToLevel",
			},
		},
		deviceTypes: map[string][]string{
			"OnOffLight":    {"OnOff", "Descriptor", "BasicInformation"},
			"DimmableLight": {"OnOff", "LevelControl", "Descriptor", "BasicInformation"},
			"RootNode":      {"Descriptor", "BasicInformation"},
		},
	}
}

func (s *Static) ClusterNameByID(id uint32) (string, bool) {
	name, ok := s.clusters[id]
	return name, ok
}

func (s *Static) AttributeNameByCode(clusterID, code uint32) (string, bool) {
	m, ok := s.attributes[clusterID][code]
	return m.name, ok
}

func (s *Static) CommandNameByCode(clusterID, code uint32) (string, bool) {
	name, ok := s.commands[clusterID][code]
	return name, ok
}

func (s *Static) AttributeType(clusterID, code uint32) (string, bool) {
	m, ok := s.attributes[clusterID][code]
	return m.typ, ok
}

func (s *Static) IsWritable(clusterID, code uint32) bool {
	return s.attributes[clusterID][code].writable
}

func (s *Static) IsEnum(clusterID, code uint32) (string, bool) {
	meta, ok := s.attributes[clusterID][code]
	if !ok || meta.enumFormat == "" {
		return "", false
	}
	return meta.enumFormat, true
}

func (s *Static) ClustersForDeviceType(deviceType string) []string {
	return s.deviceTypes[deviceType]
}

func (s *Static) ListClusters() []string {
	out := make([]string, 0, len(s.clusters))
	for _, name := range s.clusters {
		out = append(out, name)
	}
	return out
}

func (s *Static) ListDeviceTypes() []string {
	out := make([]string, 0, len(s.deviceTypes))
	for name := range s.deviceTypes {
		out = append(out, name)
	}
	return out
}

func (s *Static) AttributesForCluster(clusterName string) []AttributeInfo {
	var clusterID uint32
	found := false
	for id, name := range s.clusters {
		if name == clusterName {
			clusterID = id
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	var out []AttributeInfo
	for _, meta := range s.attributes[clusterID] {
		out = append(out, AttributeInfo{Name: meta.name, Type: meta.typ, Writable: meta.writable})
	}
	return out
}

// ErrUnknownCluster names the error for a cluster id the dictionary doesn't
// recognize. No component in this module returns it; the Response Shaper
// falls back to a Cluster_<id> name instead.
var ErrUnknownCluster = fmt.Errorf("datamodel: unknown cluster")
