// Copyright 2026 The Agent-Vis Authors
// SPDX-License-Identifier: Apache-2.0

// Package layout assigns deterministic 3D positions and marker scales
// to file-system nodes.
//
// Every parent hands out slots from a counter that only grows. Slots
// are grouped into concentric rings of fixed capacity, ring k holding
// BaseRingCapacity·(k+1) slots. A slot's ring, its index within the
// ring, and therefore its angle and radius are fixed the moment the
// slot is allocated. Positions are offsets from the parent's position:
//
//	position(child) = position(parent) + Offset(depth(child), slot, directory)
//
// Adding or removing a sibling allocates or retires a slot without
// touching any other slot's inputs, so unrelated siblings keep
// bit-identical coordinates. Directories fan out in wide rings a layer
// above their parent; files cluster in tight rings just below it.
package layout

import (
	"math"
)

const (
	// GoldenRatio spreads the base angle of successive depths so
	// sibling rings at different layers do not line up.
	GoldenRatio = 1.618033988749895

	// BaseRingCapacity is the number of slots in ring 0.
	BaseRingCapacity = 6

	// DirectorySpacing is the ring-0 radius for directories at depth 1.
	DirectorySpacing = 8.0

	// DirectoryFalloff shrinks directory rings at each deeper level so
	// nested fans stay inside their parent's neighborhood.
	DirectoryFalloff = 0.6

	// DirectoryRingStep separates successive directory rings.
	DirectoryRingStep = 1.5

	// LayerHeight lifts each directory level above its parent.
	LayerHeight = 2.0

	// FileClusterRadius is the ring-0 radius of files around their
	// directory.
	FileClusterRadius = 2.0

	// FileRingStep separates successive file rings.
	FileRingStep = 0.75

	// FileDrop places files below their directory; FileDropStep and
	// FileDropMax stagger later slots further down.
	FileDrop     = 1.5
	FileDropStep = 0.2
	FileDropMax  = 2.0

	FileScaleFloor   = 0.3
	FileScaleCeiling = 1.2

	DirectoryScaleBase    = 0.8
	DirectoryScaleStep    = 0.05
	DirectoryScaleMaxGain = 1.2
)

// Vec3 is a point or offset in scene space. Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns v + other.
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Distance returns the Euclidean distance between v and other.
func (v Vec3) Distance(other Vec3) float64 {
	return math.Sqrt((v.X-other.X)*(v.X-other.X) + (v.Y-other.Y)*(v.Y-other.Y) + (v.Z-other.Z)*(v.Z-other.Z))
}

// Slot is a child's permanent position index under its parent.
type Slot uint32

// RingCapacity is the number of slots in ring k.
func RingCapacity(ring int) int {
	return BaseRingCapacity * (ring + 1)
}

// Ring locates the slot: its ring, its index within the ring, and the
// ring's capacity.
func (s Slot) Ring() (ring, index, capacity int) {
	remaining := int(s)
	for remaining >= RingCapacity(ring) {
		remaining -= RingCapacity(ring)
		ring++
	}
	return ring, remaining, RingCapacity(ring)
}

// BaseAngle is the angular origin of rings at depth, in [0, 2π).
func BaseAngle(depth int) float64 {
	_, fraction := math.Modf(float64(depth) * GoldenRatio)
	return fraction * 2 * math.Pi
}

// Angle returns base_angle(depth) + j·(2π/m) for the slot.
func Angle(depth int, slot Slot) float64 {
	_, index, capacity := slot.Ring()
	return BaseAngle(depth) + float64(index)*(2*math.Pi/float64(capacity))
}

// Radius is g(depth, ring) for the node kind.
func Radius(depth, ring int, directory bool) float64 {
	if directory {
		falloff := math.Pow(DirectoryFalloff, float64(max(depth-1, 0)))
		return DirectorySpacing*falloff + float64(ring)*DirectoryRingStep
	}
	return FileClusterRadius + float64(ring)*FileRingStep
}

// Offset is the child's displacement from its parent. depth is the
// child's depth (the root is depth 0 and has no offset).
func Offset(depth int, slot Slot, directory bool) Vec3 {
	if depth <= 0 {
		return Vec3{}
	}
	ring, _, _ := slot.Ring()
	angle := Angle(depth, slot)
	radius := Radius(depth, ring, directory)

	var vertical float64
	if directory {
		vertical = LayerHeight
	} else {
		vertical = -FileDrop - math.Min(float64(slot)*FileDropStep, FileDropMax)
	}
	return Vec3{
		X: radius * math.Cos(angle),
		Y: vertical,
		Z: radius * math.Sin(angle),
	}
}

// Place returns the absolute position of a child at slot under a
// parent positioned at parent.
func Place(parent Vec3, depth int, slot Slot, directory bool) Vec3 {
	return parent.Add(Offset(depth, slot, directory))
}

// FileScale maps a byte size to a marker scale. It is non-decreasing
// in size, never below FileScaleFloor, and saturates at
// FileScaleCeiling (around 1 GiB).
func FileScale(size int64) float64 {
	if size <= 0 {
		return FileScaleFloor
	}
	gain := 0.03 * math.Log2(1+float64(size)/64)
	return math.Min(FileScaleFloor+gain, FileScaleCeiling)
}

// DirectoryScale grows with the number of live children, bounded at
// DirectoryScaleBase + DirectoryScaleMaxGain.
func DirectoryScale(childCount int) float64 {
	return DirectoryScaleBase + math.Min(float64(childCount)*DirectoryScaleStep, DirectoryScaleMaxGain)
}
