package arch

import (
	"strings"

	"liftkit/internal/isa"
)

// RegisterDef declares one register. A zero-sized Info means a full-width
// register of the catalog's default size.
type RegisterDef struct {
	ID   isa.Register
	Name string
	Info isa.RegisterInfo
}

// FlagDef declares one flag.
type FlagDef struct {
	ID   isa.Flag
	Name string
	Role isa.FlagRole
}

// WriteTypeDef names a set of flags updated together.
type WriteTypeDef struct {
	ID    isa.FlagWriteType
	Name  string
	Flags []isa.Flag
}

// Catalog answers the register and flag metadata queries of Architecture
// from static tables. Variants embed it.
type Catalog struct {
	regs       []RegisterDef
	flags      []FlagDef
	writes     []WriteTypeDef
	conds      map[isa.FlagCondition][]isa.Flag
	sp, lr     isa.Register
	regByID    map[isa.Register]int
	regByName  map[string]isa.Register
	flagByID   map[isa.Flag]int
	writeByID  map[isa.FlagWriteType]int
	fullWidths []isa.Register
}

// NewCatalog indexes the tables. Registers with a zero-sized Info are
// full-width registers of defaultSize bytes.
func NewCatalog(defaultSize int, regs []RegisterDef, flags []FlagDef, writes []WriteTypeDef,
	conds map[isa.FlagCondition][]isa.Flag, sp, lr isa.Register) *Catalog {
	c := &Catalog{
		regs:      append([]RegisterDef(nil), regs...),
		flags:     flags,
		writes:    writes,
		conds:     conds,
		sp:        sp,
		lr:        lr,
		regByID:   make(map[isa.Register]int, len(regs)),
		regByName: make(map[string]isa.Register, len(regs)),
		flagByID:  make(map[isa.Flag]int, len(flags)),
		writeByID: make(map[isa.FlagWriteType]int, len(writes)),
	}
	for i := range c.regs {
		r := &c.regs[i]
		if r.Info.Size == 0 {
			r.Info = isa.RegisterInfo{FullWidth: r.ID, Size: defaultSize}
		}
		c.regByID[r.ID] = i
		c.regByName[strings.ToLower(r.Name)] = r.ID
		if r.Info.FullWidth == r.ID {
			c.fullWidths = append(c.fullWidths, r.ID)
		}
	}
	for i, f := range flags {
		c.flagByID[f.ID] = i
	}
	for i, w := range writes {
		c.writeByID[w.ID] = i
	}
	return c
}

func (c *Catalog) RegisterName(r isa.Register) string {
	if i, ok := c.regByID[r]; ok {
		return c.regs[i].Name
	}
	return ""
}

// RegisterByName looks a register up case-insensitively.
func (c *Catalog) RegisterByName(name string) (isa.Register, bool) {
	r, ok := c.regByName[strings.ToLower(name)]
	return r, ok
}

// RegisterInfo returns the container of r. Unknown registers describe
// themselves as zero-sized.
func (c *Catalog) RegisterInfo(r isa.Register) isa.RegisterInfo {
	if i, ok := c.regByID[r]; ok {
		return c.regs[i].Info
	}
	return isa.RegisterInfo{FullWidth: r}
}

func (c *Catalog) FullWidthRegisters() []isa.Register {
	return append([]isa.Register(nil), c.fullWidths...)
}

func (c *Catalog) AllRegisters() []isa.Register {
	out := make([]isa.Register, len(c.regs))
	for i, r := range c.regs {
		out[i] = r.ID
	}
	return out
}

func (c *Catalog) AllFlags() []isa.Flag {
	out := make([]isa.Flag, len(c.flags))
	for i, f := range c.flags {
		out[i] = f.ID
	}
	return out
}

func (c *Catalog) FlagName(f isa.Flag) string {
	if i, ok := c.flagByID[f]; ok {
		return c.flags[i].Name
	}
	return ""
}

func (c *Catalog) FlagRole(f isa.Flag) isa.FlagRole {
	if i, ok := c.flagByID[f]; ok {
		return c.flags[i].Role
	}
	return isa.SpecialFlagRole
}

func (c *Catalog) AllFlagWriteTypes() []isa.FlagWriteType {
	out := make([]isa.FlagWriteType, len(c.writes))
	for i, w := range c.writes {
		out[i] = w.ID
	}
	return out
}

func (c *Catalog) FlagWriteTypeName(t isa.FlagWriteType) string {
	if i, ok := c.writeByID[t]; ok {
		return c.writes[i].Name
	}
	return ""
}

func (c *Catalog) FlagsWrittenByWriteType(t isa.FlagWriteType) []isa.Flag {
	if i, ok := c.writeByID[t]; ok {
		return append([]isa.Flag(nil), c.writes[i].Flags...)
	}
	return nil
}

func (c *Catalog) FlagsRequiredForCondition(cond isa.FlagCondition) []isa.Flag {
	return append([]isa.Flag(nil), c.conds[cond]...)
}

func (c *Catalog) StackPointer() isa.Register { return c.sp }

func (c *Catalog) LinkRegister() isa.Register { return c.lr }
