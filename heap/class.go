package heap

// SizeClass is the allocation class of a region run.
type SizeClass uint8

const (
	ClassSmall SizeClass = iota
	ClassMedium
	ClassLarge

	// NumClasses is the number of size classes.
	NumClasses = 3
)

func (c SizeClass) String() string {
	switch c {
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	default:
		return "unknown"
	}
}

// Classify maps a request size to its size class and run length in regions.
func Classify(size, regionSize uint64, mediumRegions int) (SizeClass, int) {
	switch {
	case size <= regionSize:
		return ClassSmall, 1
	case size <= regionSize*uint64(mediumRegions):
		return ClassMedium, mediumRegions
	default:
		return ClassLarge, int((size + regionSize - 1) / regionSize)
	}
}

// ClassOfSpan returns the class a run of span regions belongs to.
// Runs produced by splitting may have any length; only exact medium runs are medium.
func ClassOfSpan(span, mediumRegions int) SizeClass {
	switch span {
	case 1:
		return ClassSmall
	case mediumRegions:
		return ClassMedium
	default:
		return ClassLarge
	}
}
