// Package ggpk reads and edits GGPK pack files in place.
//
// A pack stores a whole asset tree as a sequence of self-describing records
// in one file: a GGPK record at offset 0, PDIR records for directories,
// FILE records for content and FREE records for reusable space. Records
// reference each other by absolute offset.
//
// Replacing a file never rewrites the pack. New content is written over the
// old record when it fits, otherwise into a free region or at the end of the
// file, after which the owning directory entry is patched and the old record
// joins the free list.
//
// # Quick Start
//
// Open a pack and read a file:
//
//	p, err := ggpk.Open("Content.ggpk")
//	if err != nil {
//	    return err
//	}
//	data, err := p.ReadFile("Art/2DArt/BuffIcons/buffbleed.dds")
//
// Replace it:
//
//	f, err := p.LookupFile("Art/2DArt/BuffIcons/buffbleed.dds")
//	if err != nil {
//	    return err
//	}
//	f, err = p.Replace(f, newData)
//
// A Pack is not safe for concurrent mutation; callers serialize Replace,
// ImportDir and ImportZip. Reads may run concurrently with each other.
//
// The package implements fs.FS and related interfaces for stdlib compatibility.
package ggpk
