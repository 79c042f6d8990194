package profile

// Ingest folds the event log into the grid. With fullReplay the grid sums are
// zeroed and every logged update is attributed again; otherwise only the
// newest entry is added.
func Ingest(g *Grid, log *EventLog, fullReplay bool) {
	if len(g.Levels) == 0 {
		return
	}
	if fullReplay {
		g.resetSums()
		for _, u := range log.Events() {
			attribute(g, u, log.Offset(u.Time))
		}
		return
	}
	u, ok := log.Last()
	if !ok {
		return
	}
	attribute(g, u, log.Offset(u.Time))
}

func attribute(g *Grid, u Update, offset float64) {
	g.Levels[g.Locate(u.Price)].add(u, offset)
}
