package testutil

import (
	"encoding/binary"
	"math"
	"unicode/utf16"

	"github.com/coral-mesh/typescope/pkg/target"
	"github.com/coral-mesh/typescope/pkg/target/targettest"
	"github.com/coral-mesh/typescope/pkg/typeinfo"
)

// Module layout of the Car fixture.
const (
	CarModule     = "dummy"
	CarModuleBase = 0x400000
	CarModuleSize = 0x10000

	// Code.
	BeforeReturnPC = 0x401100
	MainPC         = 0x401234
	RecursePC      = 0x401320
	RecurseCallPC  = 0x401340

	// Data.
	GarageAddr  = 0x404000
	DerivedAddr = 0x404100
	VTableAddr  = 0x402800

	// Main thread stack.
	MainStackBase = 0x7ffe0000
	CarAddr       = 0x7ffe0100
	ArgcAddr      = 0x7ffe01f0
	MainTEB       = 0x7ffd0000

	// Worker thread stack.
	WorkerStackBase = 0x7ffc0000
	WorkerTEB       = 0x7ffd1000

	stackSize = 0x2000
)

// Offsets within Car.
const (
	CarNameOffset     = 8
	CarWideNameOffset = 108
	CarWheelsOffset   = 308
	CarSize           = 324
)

// WheelDiameter is the value stored in every wheel.
const WheelDiameter float32 = 6.4643

// CarTypes holds the descriptors registered by NewCarTarget.
type CarTypes struct {
	Int, Char, WChar, Float *typeinfo.Descriptor
	Wheel, Car, Garage      *typeinfo.Descriptor
	Color                   *typeinfo.Descriptor
	Base, Derived           *typeinfo.Descriptor
}

// CarTarget is an in-memory target with the classic Car layout:
//
//	struct Wheel { float diameter; };
//	struct Car { int x, y; char name[100]; WCHAR wide_name[100]; Wheel wheels[4]; };
//
// A Car local lives in main's frame on the main thread. A global
// g_garage points at it. A worker thread sits two calls deep in a
// recursive function so the same local appears at two addresses.
type CarTarget struct {
	*targettest.Target

	Types  CarTypes
	Main   target.ThreadHandle
	Worker target.ThreadHandle
}

// NewCarTarget builds the fixture.
func NewCarTarget() *CarTarget {
	tgt := targettest.New()
	order := binary.LittleEndian

	types := newCarTypes()
	tgt.AddModule(target.Module{Name: CarModule, Path: "/opt/dummy/dummy.exe", Base: CarModuleBase, Size: CarModuleSize})
	for _, d := range []*typeinfo.Descriptor{
		types.Int, types.Char, types.WChar, types.Float,
		types.Wheel, types.Car, types.Garage, types.Color, types.Base, types.Derived,
	} {
		tgt.AddType(CarModule, d)
	}

	// Code with a recognizable prologue at beforeReturn.
	code := make([]byte, 0x1000)
	for i := range code {
		code[i] = 0x90
	}
	copy(code[BeforeReturnPC-0x401000:], []byte{0x55, 0x48, 0x89, 0xe5, 0xc3})
	tgt.Map(0x401000, code)
	tgt.AddSymbol(CarModule, "beforeReturn", BeforeReturnPC)
	tgt.AddSymbol(CarModule, "main", 0x401200)
	tgt.AddSymbol(CarModule, "recurse", 0x401300)
	tgt.AddSymbol(CarModule, "Derived::`vftable'", VTableAddr)

	// Main stack with the car.
	tgt.Map(MainStackBase, make([]byte, stackSize))
	tgt.Map(CarAddr, carBytes(order))
	argc := make([]byte, 4)
	order.PutUint32(argc, 1)
	tgt.Map(ArgcAddr, argc)

	// Globals.
	garage := make([]byte, 24)
	order.PutUint64(garage[0:], CarAddr)
	order.PutUint32(garage[8:], 1)
	order.PutUint32(garage[12:], 2) // Blue
	tgt.Map(GarageAddr, garage)
	tgt.AddGlobal(CarModule, "g_garage", GarageAddr, types.Garage)

	derived := make([]byte, 16)
	order.PutUint64(derived[0:], VTableAddr)
	order.PutUint32(derived[8:], 7)
	order.PutUint32(derived[12:], 42)
	tgt.Map(DerivedAddr, derived)
	tgt.AddGlobal(CarModule, "g_base", DerivedAddr, types.Base)

	vtable := make([]byte, 16)
	order.PutUint64(vtable, 0x401400)
	tgt.Map(VTableAddr, vtable)

	// Worker stack: recurse(2) -> recurse(1).
	tgt.Map(WorkerStackBase, make([]byte, stackSize))
	n := make([]byte, 4)
	order.PutUint32(n, 1)
	tgt.Map(WorkerStackBase+0x30, n)
	order.PutUint32(n, 2)
	tgt.Map(WorkerStackBase+0x70, n)

	mainThread := tgt.AddThread(1234, MainTEB,
		targettest.Frame{
			InstructionOffset: BeforeReturnPC,
			ReturnOffset:      MainPC,
			FrameOffset:       MainStackBase + 0xf0,
			StackOffset:       MainStackBase + 0xe0,
		},
		targettest.Frame{
			InstructionOffset: MainPC,
			ReturnOffset:      0x7fff1000,
			FrameOffset:       MainStackBase + 0x200,
			StackOffset:       MainStackBase + 0x100,
			Locals:            []target.Variable{{Name: "car", Address: CarAddr, Type: types.Car}},
			Args:              []target.Variable{{Name: "argc", Address: ArgcAddr, Type: types.Int}},
		},
	)
	workerThread := tgt.AddThread(1235, WorkerTEB,
		targettest.Frame{
			InstructionOffset: RecursePC,
			ReturnOffset:      RecurseCallPC,
			FrameOffset:       WorkerStackBase + 0x40,
			StackOffset:       WorkerStackBase + 0x20,
			Locals:            []target.Variable{{Name: "n", Address: WorkerStackBase + 0x30, Type: types.Int}},
		},
		targettest.Frame{
			InstructionOffset: RecurseCallPC,
			ReturnOffset:      0x401250,
			FrameOffset:       WorkerStackBase + 0x80,
			StackOffset:       WorkerStackBase + 0x60,
			Locals:            []target.Variable{{Name: "n", Address: WorkerStackBase + 0x70, Type: types.Int}},
		},
	)

	return &CarTarget{Target: tgt, Types: types, Main: mainThread, Worker: workerThread}
}

func newCarTypes() CarTypes {
	intType := typeinfo.NewPrimitive("int", 4, typeinfo.Signed).InModule(CarModule)
	charType := typeinfo.NewPrimitive("char", 1, typeinfo.Char).InModule(CarModule)
	wcharType := typeinfo.NewPrimitive("wchar_t", 2, typeinfo.WideChar).InModule(CarModule)
	floatType := typeinfo.NewPrimitive("float", 4, typeinfo.Float).InModule(CarModule)

	wheel := typeinfo.NewStruct("Wheel", 4,
		typeinfo.Field{Name: "diameter", Offset: 0, Type: floatType},
	).InModule(CarModule)

	car := typeinfo.NewStruct("Car", CarSize,
		typeinfo.Field{Name: "x", Offset: 0, Type: intType},
		typeinfo.Field{Name: "y", Offset: 4, Type: intType},
		typeinfo.Field{Name: "name", Offset: CarNameOffset, Type: typeinfo.NewArray(charType, 100)},
		typeinfo.Field{Name: "wide_name", Offset: CarWideNameOffset, Type: typeinfo.NewArray(wcharType, 100)},
		typeinfo.Field{Name: "wheels", Offset: CarWheelsOffset, Type: typeinfo.NewArray(wheel, 4)},
	).InModule(CarModule)

	color := typeinfo.NewEnum("Color", 4, typeinfo.Signed,
		typeinfo.Enumerator{Name: "Red", Value: 0},
		typeinfo.Enumerator{Name: "Green", Value: 1},
		typeinfo.Enumerator{Name: "Blue", Value: 2},
	).InModule(CarModule)

	garage := typeinfo.NewStruct("Garage", 24,
		typeinfo.Field{Name: "first", Offset: 0, Type: typeinfo.NewPointer(car, 8)},
		typeinfo.Field{Name: "count", Offset: 8, Type: intType},
		typeinfo.Field{Name: "color", Offset: 12, Type: color},
		typeinfo.Field{Name: "spare", Offset: 16, Type: typeinfo.NewPointer(wheel, 8)},
	).InModule(CarModule)

	vptr := typeinfo.NewPointer(typeinfo.NewPointer(nil, 8), 8)
	base := typeinfo.NewStruct("Base", 16,
		typeinfo.Field{Name: "__vfptr", Offset: 0, Type: vptr},
		typeinfo.Field{Name: "id", Offset: 8, Type: intType},
	).InModule(CarModule)
	derived := typeinfo.NewStruct("Derived", 16,
		typeinfo.Field{Name: "__vfptr", Offset: 0, Type: vptr},
		typeinfo.Field{Name: "id", Offset: 8, Type: intType},
		typeinfo.Field{Name: "extra", Offset: 12, Type: intType},
	).InModule(CarModule)

	return CarTypes{
		Int: intType, Char: charType, WChar: wcharType, Float: floatType,
		Wheel: wheel, Car: car, Garage: garage, Color: color,
		Base: base, Derived: derived,
	}
}

func carBytes(order binary.ByteOrder) []byte {
	b := make([]byte, CarSize)
	order.PutUint32(b[0:], 6)
	order.PutUint32(b[4:], 10)
	copy(b[CarNameOffset:], "FooCar")
	for i, c := range utf16.Encode([]rune("Wide FooCar")) {
		order.PutUint16(b[CarWideNameOffset+2*i:], c)
	}
	for i := 0; i < 4; i++ {
		order.PutUint32(b[CarWheelsOffset+4*i:], math.Float32bits(WheelDiameter))
	}
	return b
}
