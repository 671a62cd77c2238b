// Package clusterview holds the typed snapshot structures parsed from
// the cluster manager's opaque blobs (spec.md §4.1), replacing the
// dynamic JSON-shaped maps the original walked at every access
// (spec.md §9's second redesign flag). Field shapes are grounded on
// the JSON the digitalocean-pgremapper and digitalocean-ceph_exporter
// examples parse from `ceph osd dump`/`ceph osd tree`/`ceph pg dump`.
package clusterview

// Pool is a pool entry from the OSD map.
type Pool struct {
	ID                  int                         `json:"pool"`
	Name                string                      `json:"pool_name"`
	PGNum               int                         `json:"pg_num"`
	PGPNum              int                         `json:"pgp_num"`
	CrushRuleID         int                         `json:"crush_rule"`
	Size                int                         `json:"size"`
	ErasureCodeProfile  string                      `json:"erasure_code_profile"`
	ApplicationMetadata map[string]map[string]string `json:"application_metadata"`
}

// HasApplication reports whether the pool is tagged with the named
// application (e.g. "cephfs", "rgw").
func (p *Pool) HasApplication(app string) bool {
	_, ok := p.ApplicationMetadata[app]
	return ok
}

// OSDEntry is an OSD entry from the OSD map.
type OSDEntry struct {
	ID int     `json:"osd"`
	In float64 `json:"in"`
	Up float64 `json:"up"`
}

// OSDMap is the parsed `osd_map` blob.
type OSDMap struct {
	Epoch int        `json:"epoch"`
	Pools []Pool     `json:"pools"`
	OSDs  []OSDEntry `json:"osds"`
}

// GetPoolByID finds a pool by id, nil if absent.
func (m *OSDMap) GetPoolByID(id int) *Pool {
	for i := range m.Pools {
		if m.Pools[i].ID == id {
			return &m.Pools[i]
		}
	}
	return nil
}

// GetPoolByName finds a pool by name, nil if absent.
func (m *OSDMap) GetPoolByName(name string) *Pool {
	for i := range m.Pools {
		if m.Pools[i].Name == name {
			return &m.Pools[i]
		}
	}
	return nil
}

// PoolNames returns every pool name currently in the map.
func (m *OSDMap) PoolNames() map[string]bool {
	out := make(map[string]bool, len(m.Pools))
	for _, p := range m.Pools {
		out[p.Name] = true
	}
	return out
}

// CrushRuleStep is a single step of a CRUSH rule, only the fields this
// module needs to resolve a rule's root node.
type CrushRuleStep struct {
	Op       string `json:"op"`
	Item     int    `json:"item"`
	ItemName string `json:"item_name"`
}

// CrushRule is a named placement rule.
type CrushRule struct {
	ID    int             `json:"rule_id"`
	Name  string          `json:"rule_name"`
	Steps []CrushRuleStep `json:"steps"`
}

// Root returns the CRUSH node name this rule draws OSDs from: the
// item_name of its first "take" step.
func (r *CrushRule) Root() string {
	for _, s := range r.Steps {
		if s.Op == "take" {
			return s.ItemName
		}
	}
	return ""
}

// CrushNode is a node in the CRUSH hierarchy (from `osd_map_tree`).
type CrushNode struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	DeviceClass string `json:"device_class"`
	Children    []int  `json:"children"`
}

// IsOSD reports whether this node is a leaf device rather than a
// bucket, judged by its type being "osd".
func (n *CrushNode) IsOSD() bool { return n.Type == "osd" }

// CrushMap is the parsed CRUSH hierarchy plus rule set
// (`osd_map_crush` + `osd_map_tree`).
type CrushMap struct {
	Rules []CrushRule `json:"rules"`
	Nodes []CrushNode `json:"nodes"`

	byID   map[int]*CrushNode
	byName map[string]*CrushNode
}

// index lazily builds the lookup maps used by GetOSDsUnder.
func (c *CrushMap) index() {
	if c.byID != nil {
		return
	}
	c.byID = make(map[int]*CrushNode, len(c.Nodes))
	c.byName = make(map[string]*CrushNode, len(c.Nodes))
	for i := range c.Nodes {
		c.byID[c.Nodes[i].ID] = &c.Nodes[i]
		c.byName[c.Nodes[i].Name] = &c.Nodes[i]
	}
}

// GetRuleByID finds a rule by id, nil if absent.
func (c *CrushMap) GetRuleByID(id int) *CrushRule {
	for i := range c.Rules {
		if c.Rules[i].ID == id {
			return &c.Rules[i]
		}
	}
	return nil
}

// GetRuleByName finds a rule by name, nil if absent.
func (c *CrushMap) GetRuleByName(name string) *CrushRule {
	for i := range c.Rules {
		if c.Rules[i].Name == name {
			return &c.Rules[i]
		}
	}
	return nil
}

// GetRuleRoot returns the root node name the named rule draws from.
func (c *CrushMap) GetRuleRoot(ruleName string) string {
	if r := c.GetRuleByName(ruleName); r != nil {
		return r.Root()
	}
	return ""
}

// GetOSDsUnder returns the set of OSD ids reachable under the named
// root node, walking Children recursively.
func (c *CrushMap) GetOSDsUnder(root string) map[int]bool {
	c.index()
	out := make(map[int]bool)
	node, ok := c.byName[root]
	if !ok {
		return out
	}
	c.walk(node, out)
	return out
}

func (c *CrushMap) walk(node *CrushNode, out map[int]bool) {
	if node.IsOSD() {
		out[node.ID] = true
		return
	}
	for _, childID := range node.Children {
		if child, ok := c.byID[childID]; ok {
			c.walk(child, out)
		} else if childID >= 0 {
			// Positive ids with no bucket entry are leaf OSDs.
			out[childID] = true
		}
	}
}

// DeviceClassCounts returns the number of OSD leaves per device class.
func (c *CrushMap) DeviceClassCounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range c.Nodes {
		if n.IsOSD() {
			counts[n.DeviceClass]++
		}
	}
	return counts
}

// StatSum is the recovery-relevant subset of a PG's stat_sum.
type StatSum struct {
	NumBytes          int64 `json:"num_bytes"`
	NumBytesRecovered int64 `json:"num_bytes_recovered"`
}

// PGStat is one entry of `pg_dump.pg_stats`.
type PGStat struct {
	PGID    string  `json:"pgid"`
	State   string  `json:"state"`
	Up      []int   `json:"up"`
	Acting  []int   `json:"acting"`
	StatSum StatSum `json:"stat_sum"`
}

// OSDStat is one entry of `pg_dump.osd_stats`.
type OSDStat struct {
	OSD int   `json:"osd"`
	KB  int64 `json:"kb"`
}

// PGDump is the parsed `pg_dump` blob.
type PGDump struct {
	PGStats  []PGStat  `json:"pg_stats"`
	OSDStats []OSDStat `json:"osd_stats"`
}

// PGSummary is the parsed `pg_summary` blob: for each pool id (as a
// decimal string key, matching ceph's own encoding), a histogram of PG
// state string to count.
type PGSummary struct {
	ByPool map[string]map[string]int `json:"by_pool"`
}

// PoolDFStats is the usage-stats subset of one `df` pool entry.
type PoolDFStats struct {
	BytesUsed int64 `json:"bytes_used"`
}

// PoolDF is one entry of the `df` blob.
type PoolDF struct {
	ID    int         `json:"id"`
	Stats PoolDFStats `json:"stats"`
}

// DF is the parsed `df` blob.
type DF struct {
	Pools []PoolDF `json:"pools"`
}

// MDSMap is the filesystem metadata/data pool assignment for one
// filesystem entry of the `mds_map`/`fs_map` blob.
type MDSMap struct {
	FSName       string `json:"fs_name"`
	MetadataPool int    `json:"metadata_pool"`
	DataPools    []int  `json:"data_pools"`
}

// Filesystem wraps an MDSMap the way ceph's fs_map nests it.
type Filesystem struct {
	MDSMap MDSMap `json:"mdsmap"`
}

// FSMap is the parsed `mds_map`/`fs_map` blob (ceph calls this
// "fs_map" in the notification type but the underlying structure is a
// list of filesystems, each carrying an "mdsmap").
type FSMap struct {
	Filesystems []Filesystem `json:"filesystems"`
}
