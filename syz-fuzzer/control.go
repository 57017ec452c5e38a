package main

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/relfuzz/relfuzz/pkg/cover"
	"github.com/relfuzz/relfuzz/pkg/hash"
	"github.com/relfuzz/relfuzz/pkg/ipc"
	"github.com/relfuzz/relfuzz/pkg/log"
	"github.com/relfuzz/relfuzz/pkg/rpctype"
	"github.com/relfuzz/relfuzz/pkg/signal"
	"github.com/relfuzz/relfuzz/prog"
)

type Control struct {
	fuzzer            *Fuzzer
	pid               int
	rnd               *rand.Rand
	execOpts          *ipc.ExecOpts
	execOptsCover     *ipc.ExecOpts
	execOptsComps     *ipc.ExecOpts
	execOptsNoCollide *ipc.ExecOpts
	Procs             chan *Proc
}

func newControl(fuzzer *Fuzzer, pid int, procs chan *Proc) (*Control, error) {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(pid)*1e12))
	execOptsNoCollide := *fuzzer.execOpts
	execOptsNoCollide.Flags &= ^ipc.FlagCollide
	execOptsCover := execOptsNoCollide
	execOptsCover.Flags |= ipc.FlagCollectCover
	execOptsComps := execOptsNoCollide
	execOptsComps.Flags |= ipc.FlagCollectComps
	return &Control{
		Procs:             procs,
		fuzzer:            fuzzer,
		pid:               pid,
		rnd:               rnd,
		execOpts:          fuzzer.execOpts,
		execOptsCover:     &execOptsCover,
		execOptsComps:     &execOptsComps,
		execOptsNoCollide: &execOptsNoCollide,
	}, nil
}

func (ctrl *Control) loop() {
	generatePeriod := 100
	if ctrl.fuzzer.config.Flags&ipc.FlagSignal == 0 {
		// If we don't have real coverage signal, generate programs more frequently
		// because fallback signal is weak.
		generatePeriod = 2
	}
	for i := 0; ; i++ {
		item := ctrl.fuzzer.workQueue.dequeue()
		log.Logf(0, "took a work item: %T")
		if item != nil {
			switch item := item.(type) {
			case *WorkTriage:
				ctrl.triageInput(item)
			case *WorkCandidate:
				ctrl.execute(ctrl.execOpts, item.p, item.flags, StatCandidate)
			case *WorkSmash:
				ctrl.smashInput(item)
			default:
				log.Fatalf("unknown work type: %#v", item)
			}
			continue
		}

		ct := ctrl.fuzzer.choiceTable
		fuzzerSnapshot := ctrl.fuzzer.snapshot()
		if len(fuzzerSnapshot.corpus) == 0 || i%generatePeriod == 0 {
			// Generate a new prog.
			p := ctrl.fuzzer.target.Generate(ctrl.rnd, prog.RecommendedCalls, ct)
			log.Logf(1, "#%v: generated", ctrl.pid)
			ctrl.execute(ctrl.execOpts, p, ProgNormal, StatGenerate)
		} else {
			// Mutate an existing prog.
			p := fuzzerSnapshot.chooseProgram(ctrl.rnd).Clone()
			p.Mutate(ctrl.rnd, prog.RecommendedCalls, ct, fuzzerSnapshot.corpus)
			log.Logf(1, "#%v: mutated", ctrl.pid)
			ctrl.execute(ctrl.execOpts, p, ProgNormal, StatFuzz)
		}
	}
}

func (ctrl *Control) triageInput(item *WorkTriage) {
	log.Logf(1, "#%v: triaging type=%x", ctrl.pid, item.flags)

	prio := signalPrio(item.p, &item.info, item.call)
	inputSignal := signal.FromRaw(item.info.Signal, prio)
	newSignal := ctrl.fuzzer.corpusSignalDiff(inputSignal)
	if newSignal.Empty() {
		return
	}
	callName := ".extra"
	logCallName := "extra"
	if item.call != -1 {
		callName = item.p.Calls[item.call].Meta.Name
		logCallName = fmt.Sprintf("call #%v %v", item.call, callName)
	}
	log.Logf(3, "triaging input for %v (new signal=%v)", logCallName, newSignal.Len())
	var inputCover cover.Cover
	const (
		signalRuns       = 3
		minimizeAttempts = 3
	)
	// Compute input coverage and non-flaky signal for minimization.
	notexecuted := 0
	for i := 0; i < signalRuns; i++ {
		info := ctrl.executeRaw(ctrl.execOptsCover, item.p, StatTriage)
		if !reexecutionSuccess(info, &item.info, item.call) {
			// The call was not executed or failed.
			notexecuted++
			if notexecuted > signalRuns/2+1 {
				return // if happens too often, give up
			}
			continue
		}
		thisSignal, thisCover := getSignalAndCover(item.p, info, item.call)
		newSignal = newSignal.Intersection(thisSignal)
		// Without !minimized check manager starts losing some considerable amount
		// of coverage after each restart. Mechanics of this are not completely clear.
		if newSignal.Empty() && item.flags&ProgMinimized == 0 {
			return
		}
		inputCover.Merge(thisCover)
	}
	if item.flags&ProgMinimized == 0 {
		item.p, item.call = prog.Minimize(item.p, item.call, false,
			func(p1 *prog.Prog, call1 int) bool {
				for i := 0; i < minimizeAttempts; i++ {
					info := ctrl.execute(ctrl.execOptsNoCollide, p1, ProgNormal, StatMinimize)
					if !reexecutionSuccess(info, &item.info, call1) {
						// The call was not executed or failed.
						continue
					}
					thisSignal, _ := getSignalAndCover(p1, info, call1)
					if newSignal.Intersection(thisSignal).Len() == newSignal.Len() {
						return true
					}
				}
				return false
			})
	}

	data := item.p.Serialize()
	sig := hash.Hash(data)

	log.Logf(2, "added new input for %v to corpus:\n%s", logCallName, data)
	ctrl.fuzzer.sendInputToManager(rpctype.RPCInput{
		Call:   callName,
		Prog:   data,
		Signal: inputSignal.Serialize(),
		Cover:  inputCover.Serialize(),
	})

	ctrl.fuzzer.addInputToCorpus(item.p, inputSignal, sig)

	if item.flags&ProgSmashed == 0 {
		ctrl.fuzzer.workQueue.enqueue(&WorkSmash{item.p, item.call})
	}
}

func reexecutionSuccess(info *ipc.ProgInfo, oldInfo *ipc.CallInfo, call int) bool {
	if info == nil || len(info.Calls) == 0 {
		return false
	}
	if call != -1 {
		// Don't minimize calls from successful to unsuccessful.
		// Successful calls are much more valuable.
		if oldInfo.Errno == 0 && info.Calls[call].Errno != 0 {
			return false
		}
		return len(info.Calls[call].Signal) != 0
	}
	return len(info.Extra.Signal) != 0
}

func getSignalAndCover(p *prog.Prog, info *ipc.ProgInfo, call int) (signal.Signal, []uint32) {
	inf := &info.Extra
	if call != -1 {
		inf = &info.Calls[call]
	}
	return signal.FromRaw(inf.Signal, signalPrio(p, inf, call)), inf.Cover
}

func (ctrl *Control) smashInput(item *WorkSmash) {
	if ctrl.fuzzer.faultInjectionEnabled && item.call != -1 {
		ctrl.failCall(item.p, item.call)
	}
	if ctrl.fuzzer.comparisonTracingEnabled && item.call != -1 {
		ctrl.executeHintSeed(item.p, item.call)
	}
	fuzzerSnapshot := ctrl.fuzzer.snapshot()
	for i := 0; i < 100; i++ {
		p := item.p.Clone()
		p.Mutate(ctrl.rnd, prog.RecommendedCalls, ctrl.fuzzer.choiceTable, fuzzerSnapshot.corpus)
		log.Logf(1, "#%v: smash mutated", ctrl.pid)
		ctrl.execute(ctrl.execOpts, p, ProgNormal, StatSmash)
	}
}

func (ctrl *Control) failCall(p *prog.Prog, call int) {
	for nth := 1; nth <= 100; nth++ {
		log.Logf(1, "#%v: injecting fault into call %v/%v", ctrl.pid, call, nth)
		newProg := p.Clone()
		newProg.Calls[call].Props.FailNth = nth
		info := ctrl.executeRaw(ctrl.execOpts, newProg, StatSmash)
		if info != nil && len(info.Calls) > call && info.Calls[call].Flags&ipc.CallFaultInjected == 0 {
			break
		}
	}
}

func (ctrl *Control) executeHintSeed(p *prog.Prog, call int) {
	log.Logf(1, "#%v: collecting comparisons", ctrl.pid)
	// First execute the original program to dump comparisons from KCOV.
	info := ctrl.execute(ctrl.execOptsComps, p, ProgNormal, StatSeed)
	if info == nil {
		return
	}

	// Then mutate the initial program for every match between
	// a syscall argument and a comparison operand.
	// Execute each of such mutants to check if it gives new coverage.
	p.MutateWithHints(call, info.Calls[call].Comps, func(p *prog.Prog) {
		log.Logf(1, "#%v: executing comparison hint", ctrl.pid)
		ctrl.execute(ctrl.execOpts, p, ProgNormal, StatHint)
	})
}

func (ctrl *Control) execute(execOpts *ipc.ExecOpts, p *prog.Prog, flags ProgTypes, stat Stat) *ipc.ProgInfo {
	info := ctrl.executeRaw(execOpts, p, stat)
	if info == nil {
		return nil
	}
	calls, extra := ctrl.fuzzer.checkNewSignal(p, info)
	for _, callIndex := range calls {
		ctrl.enqueueCallTriage(p, flags, callIndex, info.Calls[callIndex])
	}
	if extra {
		ctrl.enqueueCallTriage(p, flags, -1, info.Extra)
	}
	return info
}

func (ctrl *Control) enqueueCallTriage(p *prog.Prog, flags ProgTypes, callIndex int, info ipc.CallInfo) {
	// info.Signal points to the output shmem region, detach it before queueing.
	info.Signal = append([]uint32{}, info.Signal...)
	// None of the caller use Cover, so just nil it instead of detaching.
	// Note: triage input uses executeRaw to get coverage.
	info.Cover = nil
	ctrl.fuzzer.workQueue.enqueue(&WorkTriage{
		p:     p.Clone(),
		call:  callIndex,
		info:  info,
		flags: flags,
	})
}

func (ctrl *Control) executeRaw(opts *ipc.ExecOpts, p *prog.Prog, stat Stat) *ipc.ProgInfo {
	proc := <-ctrl.Procs
	ret := proc.executeRaw(opts, p, stat)
	ctrl.Procs <- proc
	return ret
}
