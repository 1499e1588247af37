package grib

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	aboveGroundRe = regexp.MustCompile(`^(\d+) m above ground$`)
	isobaricRe    = regexp.MustCompile(`^(\d+) mb$`)
)

// parseLevel maps a wgrib2 level description onto the ecCodes typeOfLevel
// and level. Unknown descriptions yield "" and nil.
func parseLevel(desc string) (string, *int) {
	desc = strings.TrimSpace(desc)
	switch desc {
	case "surface":
		return "surface", IntPtr(0)
	case "mean sea level":
		return "meanSea", IntPtr(0)
	case "entire atmosphere", "entire atmosphere (considered as a single layer)":
		return "atmosphere", IntPtr(0)
	case "cloud top":
		return "cloudTop", IntPtr(0)
	case "cloud base":
		return "cloudBase", IntPtr(0)
	}
	if m := aboveGroundRe.FindStringSubmatch(desc); m != nil {
		n, _ := strconv.Atoi(m[1])
		return "heightAboveGround", IntPtr(n)
	}
	if m := isobaricRe.FindStringSubmatch(desc); m != nil {
		n, _ := strconv.Atoi(m[1])
		return "isobaricInhPa", IntPtr(n)
	}
	return "", nil
}
