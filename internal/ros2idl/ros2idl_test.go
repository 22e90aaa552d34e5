package ros2idl

import (
	"strings"
	"testing"

	"github.com/transmcap/transmcap/internal/cdr"
	"github.com/transmcap/transmcap/pkg/value"
)

const imuBundle = `// generated from rosidl_adapter
#include "geometry_msgs/msg/Vector3.idl"

module sensor_msgs {
  module msg {
    @verbatim (language="comment", text=
      "Accel (m/s^2); contains ')' and ';' on purpose")
    struct Imu {
      geometry_msgs::msg::Vector3 linear_acceleration;
      double orientation_covariance[9];
      @default (value=0)
      uint32 seq;
    };
  };
};

================================================================================
IDL: geometry_msgs/msg/Vector3

module geometry_msgs {
  module msg {
    struct Vector3 {
      double x;
      double y;
      double z;
    };
  };
};
`

func TestParseBundle(t *testing.T) {
	s, err := Parse("sensor_msgs/msg/Imu", []byte(imuBundle))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	imu := s.Structs["sensor_msgs/msg/Imu"]
	if imu == nil {
		t.Fatal("root struct missing")
	}
	if len(imu.Fields) != 3 {
		t.Fatalf("imu fields = %d, want 3", len(imu.Fields))
	}
	if got := imu.Fields[0].Type.Name; got != "geometry_msgs/msg/Vector3" {
		t.Errorf("linear_acceleration resolves to %q", got)
	}
	cov := imu.Fields[1].Type
	if cov.Coll != cdr.CollFixed || cov.CollSize != 9 || cov.Prim != value.KindF64 {
		t.Errorf("orientation_covariance type = %+v", cov)
	}
	if imu.Fields[2].Name != "seq" || imu.Fields[2].Type.Prim != value.KindU32 {
		t.Errorf("seq field = %+v", imu.Fields[2])
	}
}

func TestParseTypeAliases(t *testing.T) {
	src := `module pkg { module msg { struct M {
  octet a;
  boolean b;
  short c;
  unsigned short d;
  long e;
  unsigned long f;
  long long g;
  unsigned long long h;
  float i;
  double j;
}; }; };`
	s, err := Parse("pkg/msg/M", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []value.Kind{
		value.KindU8, value.KindBool, value.KindI16, value.KindU16,
		value.KindI32, value.KindU32, value.KindI64, value.KindU64,
		value.KindF32, value.KindF64,
	}
	fields := s.Structs["pkg/msg/M"].Fields
	if len(fields) != len(want) {
		t.Fatalf("fields = %d, want %d", len(fields), len(want))
	}
	for i, k := range want {
		if fields[i].Type.Prim != k {
			t.Errorf("field %d kind = %s, want %s", i, fields[i].Type.Prim, k)
		}
	}
}

func TestParseSequencesAndStrings(t *testing.T) {
	src := `module pkg { module msg { struct M {
  sequence<long> xs;
  sequence<double, 4> ys;
  string name;
  string<8> code;
}; }; };`
	s, err := Parse("pkg/msg/M", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fields := s.Structs["pkg/msg/M"].Fields
	if fields[0].Type.Coll != cdr.CollSeq || fields[0].Type.Prim != value.KindI32 {
		t.Errorf("xs = %+v", fields[0].Type)
	}
	if fields[1].Type.Coll != cdr.CollBounded || fields[1].Type.CollSize != 4 {
		t.Errorf("ys = %+v", fields[1].Type)
	}
	if fields[2].Type.Kind != cdr.ElemString || fields[2].Type.StrBound != 0 {
		t.Errorf("name = %+v", fields[2].Type)
	}
	if fields[3].Type.Kind != cdr.ElemString || fields[3].Type.StrBound != 8 {
		t.Errorf("code = %+v", fields[3].Type)
	}
}

func TestParseEnum(t *testing.T) {
	src := `module pkg { module msg {
  enum Mode { IDLE, ACTIVE, FAULT };
  struct M { Mode mode; };
}; };`
	s, err := Parse("pkg/msg/M", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	en := s.Enums["pkg/msg/Mode"]
	if en == nil {
		t.Fatal("enum missing")
	}
	if len(en.Variants) != 3 || en.Variants[2] != "FAULT" {
		t.Errorf("variants = %v", en.Variants)
	}
	if got := s.Structs["pkg/msg/M"].Fields[0].Type.Name; got != "pkg/msg/Mode" {
		t.Errorf("mode resolves to %q", got)
	}
}

func TestParseSkipsConstants(t *testing.T) {
	src := `module pkg { module msg {
  module M_Constants {
    const uint8 DEBUG = 0;
    const string NAME = "log; (tricky)";
  };
  struct M { uint8 level; };
}; };`
	s, err := Parse("pkg/msg/M", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	fields := s.Structs["pkg/msg/M"].Fields
	if len(fields) != 1 || fields[0].Name != "level" {
		t.Errorf("fields = %+v, want only level", fields)
	}
}

func TestParseRejectsUnsupported(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{"typedef", "module pkg { module msg {\ntypedef long MyInt;\nstruct M { MyInt x; }; }; };", "typedef"},
		{"union", "module pkg { module msg {\nunion U switch (long) { case 1: long a; };\nstruct M { long x; }; }; };", "union"},
		{"long double", "module pkg { module msg { struct M {\nlong double x;\n}; }; };", "long double"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse("pkg/msg/M", []byte(tc.src))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err = %v, want mention of %s", err, tc.want)
			}
			if !strings.Contains(err.Error(), "line ") {
				t.Errorf("err should carry a line number: %v", err)
			}
		})
	}
}

func TestParseTwoSegmentRootName(t *testing.T) {
	src := `module pkg { module msg { struct M { long x; }; }; };`
	s, err := Parse("pkg/M", []byte(src))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Root != "pkg/msg/M" {
		t.Errorf("root = %q", s.Root)
	}
}
