package game

import (
	"context"
	"fmt"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"
)

const (
	PlayerHitMin = 10
	PlayerHitMax = 20
	BossHitMin   = 5
	BossHitMax   = 15
)

// Roller draws an integer uniformly from the closed range [min, max].
type Roller interface {
	Roll(min, max int) int
}

type lockedRoller struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

func NewRoller(seed int64) Roller {
	return &lockedRoller{rand: mathrand.New(mathrand.NewSource(seed))}
}

func (r *lockedRoller) Roll(min, max int) int {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + r.rand.Intn(max-min+1)
}

// BossFor scales a boss from the player's base stats:
// hp = floor((100 + sum) * 1.1), dmg = floor(sum * 1.1).
func BossFor(stats Stats, username string) Boss {
	sum := stats.Sum()
	name := strings.ToUpper(strings.TrimSpace(username))
	if name == "" {
		name = "THE UNNAMED"
	}
	return Boss{
		Name: "ECHO OF " + name,
		HP:   (100 + sum) * 11 / 10,
		Dmg:  sum * 11 / 10,
	}
}

type CombatEngine struct {
	registry *Registry
	roller   Roller
}

func NewCombatEngine(registry *Registry, roller Roller) *CombatEngine {
	if roller == nil {
		roller = NewRoller(time.Now().UnixNano())
	}
	return &CombatEngine{registry: registry, roller: roller}
}

func (c *CombatEngine) StartEncounter(ctx context.Context, userID int64) (Boss, error) {
	u, err := c.registry.Get(ctx, userID)
	if err != nil {
		return Boss{}, err
	}
	return BossFor(u.Stats, u.Username), nil
}

// ResolveTurn plays one exchange against a boss whose HP the caller supplies.
// HP is not persisted; only the LOCKED -> IDLE transition on a kill is, and
// that transition also adds one to kills_lifetime.
func (c *CombatEngine) ResolveTurn(ctx context.Context, userID int64, action Action, currentBossHP int) (TurnResult, error) {
	if action != ActionAttack {
		return TurnResult{}, ErrInvalidAction
	}
	if currentBossHP <= 0 {
		return TurnResult{}, fmt.Errorf("%w: boss_hp_current must be > 0", ErrValidation)
	}

	res := strikeExchange(c.roller, currentBossHP)
	if res.Status == TurnVictory {
		cleared, err := c.registry.ClearAmbush(ctx, userID)
		if err != nil {
			return TurnResult{}, fmt.Errorf("release combat lock: %w", err)
		}
		res.KillCredited = cleared
	}
	return res, nil
}

func strikeExchange(roller Roller, bossHP int) TurnResult {
	hit := roller.Roll(PlayerHitMin, PlayerHitMax)
	bossHP -= hit
	res := TurnResult{
		Events: []CombatEvent{{Actor: "player", Damage: hit}},
		Log:    []string{fmt.Sprintf("You strike for %d damage.", hit)},
	}
	if bossHP <= 0 {
		res.Status = TurnVictory
		res.Log = append(res.Log, "The boss collapses. VICTORY.")
		return res
	}

	counter := roller.Roll(BossHitMin, BossHitMax)
	res.Status = TurnOngoing
	res.Events = append(res.Events, CombatEvent{Actor: "boss", Damage: counter})
	res.Log = append(res.Log, fmt.Sprintf("The boss hits back for %d damage.", counter))
	res.NewBossHP = &bossHP
	return res
}
