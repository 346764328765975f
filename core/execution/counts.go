package execution

// StatusCounts holds execution counts per job and status, missing pairs count as zero
type StatusCounts map[string]map[Status]int

func (c StatusCounts) Add(jobName string, status Status, count int) {
	if _, ok := c[jobName]; !ok {
		c[jobName] = map[Status]int{}
	}
	c[jobName][status] += count
}

func (c StatusCounts) Get(jobName string, status Status) int {
	perStatus, ok := c[jobName]
	if !ok {
		return 0
	}
	return perStatus[status]
}
