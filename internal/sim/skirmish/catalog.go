package skirmish

// Distances are in milli-tiles; times are in ticks.

type UnitSpec struct {
	Kind       string
	HP         int64
	Speed      int64
	Damage     int64
	Range      int64
	Cost       int64
	TrainTicks int
	Capacity   int
	Gathers    bool
}

type BuildingSpec struct {
	Kind   string
	HP     int64
	Cost   int64
	Trains []string
}

var unitSpecs = map[string]UnitSpec{
	"worker":    {Kind: "worker", HP: 40, Speed: 150, Damage: 2, Range: 1000, Cost: 50, TrainTicks: 40, Gathers: true},
	"soldier":   {Kind: "soldier", HP: 80, Speed: 120, Damage: 8, Range: 1500, Cost: 100, TrainTicks: 60},
	"transport": {Kind: "transport", HP: 120, Speed: 200, Cost: 150, TrainTicks: 80, Capacity: 4},
}

var buildingSpecs = map[string]BuildingSpec{
	"base":     {Kind: "base", HP: 1000, Cost: 400, Trains: []string{"worker", "transport"}},
	"barracks": {Kind: "barracks", HP: 500, Cost: 150, Trains: []string{"soldier"}},
	"depot":    {Kind: "depot", HP: 300, Cost: 100},
}

const (
	gatherRange  int64 = 1000
	gatherRate   int64 = 1
	loadRange    int64 = 1500
	nodeAmount   int64 = 5000
	startingGold int64 = 300
)

func (b BuildingSpec) canTrain(kind string) bool {
	for _, k := range b.Trains {
		if k == kind {
			return true
		}
	}
	return false
}
